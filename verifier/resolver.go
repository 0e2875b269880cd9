package verifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver finds the mail exchangers of a domain, most preferred first.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]string, error)
}

// DefaultNameservers are the public recursive resolvers queried in order.
var DefaultNameservers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// DNSResolver talks to explicit recursive resolvers instead of the host's
// stub resolver, so an NXDOMAIN answer is told apart from a failed lookup.
type DNSResolver struct {
	nameservers []string
	timeout     time.Duration
	udp         *dns.Client
	tcp         *dns.Client
}

// NewDNSResolver queries nameservers in order. timeout bounds a whole lookup;
// an empty list uses DefaultNameservers.
func NewDNSResolver(nameservers []string, timeout time.Duration) *DNSResolver {
	if len(nameservers) == 0 {
		nameservers = DefaultNameservers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &DNSResolver{
		nameservers: nameservers,
		timeout:     timeout,
		udp:         &dns.Client{Net: "udp", Timeout: timeout},
		tcp:         &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// LookupMX bounds the whole lookup, across every nameserver, by the resolver
// timeout. Each nameserver gets an equal share of what is left, so a silent
// first server still leaves time for the next one. NXDOMAIN and an empty MX
// set are final; server failures fall through to the next nameserver.
func (r *DNSResolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if _, ok := dns.IsDomainName(domain); !ok || domain == "" {
		return nil, fmt.Errorf("%w: invalid domain %q", ErrLookupFailed, domain)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(domain), dns.TypeMX)

	var lastErr error
	for i, server := range r.nameservers {
		answer, err := r.exchangeWithShare(ctx, query, server, len(r.nameservers)-i)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		switch answer.Rcode {
		case dns.RcodeSuccess:
			hosts := mxHosts(answer)
			if len(hosts) == 0 {
				return nil, fmt.Errorf("%w: %s: %w", ErrLookupFailed, domain, ErrNoMXRecords)
			}
			return hosts, nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
		default:
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[answer.Rcode])
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrLookupFailed, domain, lastErr)
}

// exchangeWithShare gives one nameserver 1/remaining of the time left on ctx.
func (r *DNSResolver) exchangeWithShare(ctx context.Context, query *dns.Msg, server string, remaining int) (*dns.Msg, error) {
	if deadline, ok := ctx.Deadline(); ok && remaining > 1 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
		defer cancel()
	}
	return r.exchange(ctx, query, server)
}

func (r *DNSResolver) exchange(ctx context.Context, query *dns.Msg, server string) (*dns.Msg, error) {
	answer, _, err := r.udp.ExchangeContext(ctx, query, server)
	if err != nil {
		return nil, err
	}
	if answer.Truncated {
		answer, _, err = r.tcp.ExchangeContext(ctx, query, server)
	}
	return answer, err
}

// mxHosts sorts by preference, keeping answer order on ties, and drops null MX records.
func mxHosts(answer *dns.Msg) []string {
	var records []*dns.MX
	for _, rr := range answer.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			records = append(records, mx)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Preference < records[j].Preference
	})

	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		host := strings.TrimSuffix(mx.Mx, ".")
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}
