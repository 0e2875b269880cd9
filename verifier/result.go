package verifier

import "fmt"

// Severity groups categories for presentation.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityDanger  Severity = "danger"
	SeverityWarning Severity = "warning"
)

const (
	symbolSuccess = "✅"
	symbolDanger  = "❌"
	symbolWarning = "❓"
	symbolDNS     = "⚠️"
)

// Fixed category labels. Two more are built at runtime, see unknownResponse and UnknownError.
const (
	CategoryInvalidFormat      = "Invalid format"
	CategoryDomainNotFound     = "Domain does not exist"
	CategoryLookupFailed       = "DNS lookup failed or domain invalid"
	CategoryMailboxExists      = "Mailbox exists"
	CategoryMailboxNotFound    = "Mailbox not found"
	CategoryTemporarilyBlocked = "Temporarily blocked - Retry later"
	CategoryBlocked            = "Blocked by mail server"
	CategoryTimeout            = "SMTP connection timed out"
	CategoryDisconnected       = "SMTP server disconnected"
	CategoryConnectError       = "SMTP connection error"
)

// Result is the final verdict for one address.
type Result struct {
	Address  string   `json:"email"`
	Category string   `json:"status"`
	Severity Severity `json:"badge"`
	Symbol   string   `json:"icon"`
}

// ProbeOutcome is what a single SMTP attempt produced. Err is set when the
// transaction could not complete; Code and Message are then meaningless.
type ProbeOutcome struct {
	Code    int
	Message string
	Err     error
}

func success(address, category string) Result {
	return Result{Address: address, Category: category, Severity: SeveritySuccess, Symbol: symbolSuccess}
}

func danger(address, category string) Result {
	return Result{Address: address, Category: category, Severity: SeverityDanger, Symbol: symbolDanger}
}

func warning(address, category string) Result {
	return Result{Address: address, Category: category, Severity: SeverityWarning, Symbol: symbolWarning}
}

func dnsWarning(address, category string) Result {
	return Result{Address: address, Category: category, Severity: SeverityWarning, Symbol: symbolDNS}
}

func unknownResponse(address string, code int) Result {
	return warning(address, fmt.Sprintf("Unknown SMTP response: %d", code))
}

// UnknownError is the catch-all verdict for failures nothing else explains.
func UnknownError(address string, err error) Result {
	return warning(address, "Unknown error: "+err.Error())
}
