package verifier

import (
	"context"
	"fmt"
	"strings"
)

// CatchAllReport is the outcome of probing a mailbox that should not exist.
type CatchAllReport struct {
	Domain       string `json:"domain"`
	Host         string `json:"mx_host"`
	ProbeAddress string `json:"probe_address"`
	CatchAll     bool   `json:"catch_all"`
	Code         int    `json:"code,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CatchAll probes a random noexist-NNNNNN mailbox on domain. A 250 for it
// means the exchanger accepts every recipient. It skips the courtesy delay
// and is never part of Verify. Only resolution failures are returned as
// errors; a failed probe is reported as not catch-all with Error set.
func (v *Verifier) CatchAll(ctx context.Context, domain string) (*CatchAllReport, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	host, err := v.exchanger(ctx, domain)
	if err != nil {
		return nil, err
	}

	report := &CatchAllReport{
		Domain:       domain,
		Host:         host,
		ProbeAddress: fmt.Sprintf("noexist-%d@%s", 100000+v.rnd.intn(900000), domain),
	}
	outcome := v.prober.Probe(ctx, host, v.sender(), report.ProbeAddress)
	if outcome.Err != nil {
		report.Error = outcome.Err.Error()
		return report, nil
	}
	report.Code = outcome.Code
	report.Message = outcome.Message
	report.CatchAll = outcome.Code == 250
	return report, nil
}
