package transform

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"

	"go-anomaly-pipeline/internal/model"
)

// domainSplit writes the sub domain and the highest registered domain of a
// host name, using the public suffix list to find the registered part.
type domainSplit struct {
	bound
}

func newDomainSplit(cfg model.TransformConfig, reads, writes []Index) (Transform, error) {
	return &domainSplit{bound: bound{name: cfg.Transform, reads: reads, writes: writes}}, nil
}

func (t *domainSplit) Apply(a *Arrays) Result {
	sub, hrd := SplitDomain(a.Get(t.reads[0]))
	a.Set(t.writes[0], sub)
	a.Set(t.writes[1], hrd)
	return OK
}

// SplitDomain returns the sub domain and highest registered domain of host.
// IP addresses and bare public suffixes come back whole as the registered
// domain with an empty sub domain.
func SplitDomain(host string) (sub, hrd string) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", ""
	}
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "", host
	}

	registered, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", host
	}
	sub = strings.TrimSuffix(strings.TrimSuffix(host, registered), ".")
	return sub, registered
}
