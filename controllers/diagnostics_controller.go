package controller

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailprobe/utils"
	"mailprobe/verifier"
)

// CatchAllChecker probes a domain with a mailbox that should not exist.
type CatchAllChecker interface {
	CatchAll(ctx context.Context, domain string) (*verifier.CatchAllReport, error)
}

// WhoisLookup returns the raw WHOIS record of a domain.
type WhoisLookup func(domain string) (string, error)

type DiagnosticsController struct {
	Checker CatchAllChecker
	Whois   WhoisLookup
	Timeout time.Duration
}

func NewDiagnosticsController(checker CatchAllChecker, whois WhoisLookup, timeout time.Duration) *DiagnosticsController {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DiagnosticsController{Checker: checker, Whois: whois, Timeout: timeout}
}

type catchAllResponse struct {
	*verifier.CatchAllReport
	Whois      string `json:"whois,omitempty"`
	WhoisError string `json:"whois_error,omitempty"`
}

// CatchAll reports whether the domain's exchanger accepts unknown mailboxes.
// ?whois=true adds the domain's WHOIS record.
func (dc *DiagnosticsController) CatchAll(c *fiber.Ctx) error {
	request := struct {
		Domain string `validate:"required,fqdn"`
	}{Domain: strings.ToLower(strings.TrimSpace(c.Params("domain")))}
	if err := utils.ValidateStruct(request); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid domain", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), dc.Timeout)
	defer cancel()

	report, err := dc.Checker.CatchAll(ctx, request.Domain)
	switch {
	case errors.Is(err, verifier.ErrDomainNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, verifier.CategoryDomainNotFound, err)
	case err != nil:
		return utils.ErrorResponse(c, fiber.StatusBadGateway, verifier.CategoryLookupFailed, err)
	}

	response := catchAllResponse{CatchAllReport: report}
	if c.QueryBool("whois") && dc.Whois != nil {
		info, err := dc.Whois(request.Domain)
		if err != nil {
			response.WhoisError = err.Error()
		} else {
			response.Whois = info
		}
	}
	return c.JSON(response)
}
