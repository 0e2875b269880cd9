package verifier

import "strings"

var (
	rejectionPhrases = []string{"user unknown", "not found", "no such user", "recipient rejected", "unrouteable"}
	transientPhrases = []string{"try again", "temporarily", "greylist", "over quota"}
	blockedPhrases   = []string{"access denied", "not allowed"}
)

// classify maps one probe outcome onto a verdict. transient reports whether
// the verdict may be retried; the returned Result is what to record once the
// retry budget is spent.
func classify(address string, outcome ProbeOutcome) (result Result, transient bool) {
	if outcome.Err != nil {
		return classifyTransport(address, outcome.Err), false
	}

	message := strings.ToLower(outcome.Message)
	switch {
	case outcome.Code == 250 && containsAny(message, rejectionPhrases):
		return danger(address, CategoryMailboxNotFound), false
	case outcome.Code == 250:
		return success(address, CategoryMailboxExists), false
	case isTransientCode(outcome.Code) || containsAny(message, transientPhrases):
		return warning(address, CategoryTemporarilyBlocked), true
	case containsAny(message, blockedPhrases):
		return warning(address, CategoryBlocked), false
	case outcome.Code == 550:
		return danger(address, CategoryMailboxNotFound), false
	default:
		return unknownResponse(address, outcome.Code), false
	}
}

func classifyTransport(address string, err error) Result {
	switch {
	case isTimeout(err):
		return warning(address, CategoryTimeout)
	case isConnectFailure(err):
		return warning(address, CategoryConnectError)
	case isDisconnect(err):
		return warning(address, CategoryDisconnected)
	default:
		return UnknownError(address, err)
	}
}

func isTransientCode(code int) bool {
	return code == 450 || code == 451 || code == 452
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
