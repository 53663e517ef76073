package models

import "encoding/xml"

// ProbeRun represents the root element of the probe's XML output
type ProbeRun struct {
	XMLName xml.Name    `xml:"nmaprun"`
	Start   string      `xml:"startstr,attr"`
	Hosts   []ProbeHost `xml:"host"`
}

// ProbeHost represents a single scanned host
type ProbeHost struct {
	Status    *ProbeHostStatus `xml:"status"`
	Addresses []ProbeAddress   `xml:"address"`
	Ports     *ProbePorts      `xml:"ports"`
}

// ProbeHostStatus represents host up/down status
type ProbeHostStatus struct {
	State string `xml:"state,attr"`
}

// ProbeAddress represents an IP or MAC address
type ProbeAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

// ProbePorts contains the list of scanned ports
type ProbePorts struct {
	List []ProbePort `xml:"port"`
}

// ProbePort represents a single scanned port
type ProbePort struct {
	Protocol string        `xml:"protocol,attr"`
	PortID   int           `xml:"portid,attr"`
	State    *ProbeState   `xml:"state"`
	Service  *ProbeService `xml:"service"`
}

// ProbeState represents port state (open/closed/filtered) with diagnostics
type ProbeState struct {
	State     string `xml:"state,attr"`
	Reason    string `xml:"reason,attr"`
	ReasonTTL string `xml:"reason_ttl,attr"`
}

// ProbeService represents detected service information
type ProbeService struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Version string `xml:"version,attr"`
}
