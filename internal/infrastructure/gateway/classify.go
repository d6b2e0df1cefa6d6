package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fiscalhub/internal/domain/fiscal"
)

// Classify maps an upstream outcome to a failure kind. Transport errors,
// timeouts, 408, 429 and 5xx mean the authority could not be reached;
// 401/403 (after the re-authentication retry) are credential failures; any
// other 4xx is an explicit refusal.
func Classify(resp *Response, err error) fiscal.FailureKind {
	switch {
	case errors.Is(err, ErrCredentials):
		return fiscal.FailureAuth
	case err != nil || resp == nil:
		return fiscal.FailureUnreachable
	case resp.OK():
		return fiscal.FailureNone
	}

	switch code := resp.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fiscal.FailureUnreachable
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fiscal.FailureAuth
	default:
		return fiscal.FailureRejected
	}
}

// Failure converts an unsuccessful call into a result. message extracts the
// vendor's error text from the body; it may be nil.
func Failure(resp *Response, err error, message func([]byte) string) fiscal.GatewayResult {
	kind := Classify(resp, err)
	if err != nil {
		return fiscal.Failed(kind, err.Error(), nil)
	}

	msg := ""
	if message != nil {
		msg = message(resp.Body)
	}
	if msg == "" {
		msg = ErrorMessage(resp.Body)
	}
	if msg == "" {
		msg = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return fiscal.Failed(kind, msg, resp.Body)
}

// ErrorMessage pulls a human readable message out of common error envelopes:
// {"mensagem"}, {"message"}, {"error": {"message"}}, {"erros": [{"mensagem"}]}.
func ErrorMessage(body []byte) string {
	var env struct {
		Mensagem string          `json:"mensagem"`
		Message  string          `json:"message"`
		Error    json.RawMessage `json:"error"`
		Erros    []struct {
			Mensagem string `json:"mensagem"`
			Campo    string `json:"campo"`
		} `json:"erros"`
	}
	if json.Unmarshal(body, &env) != nil {
		return ""
	}

	var parts []string
	for _, e := range env.Erros {
		if e.Campo != "" {
			parts = append(parts, e.Campo+": "+e.Mensagem)
		} else if e.Mensagem != "" {
			parts = append(parts, e.Mensagem)
		}
	}
	switch {
	case env.Mensagem != "":
		parts = append([]string{env.Mensagem}, parts...)
	case env.Message != "":
		parts = append([]string{env.Message}, parts...)
	case len(env.Error) > 0:
		var nested struct {
			Message string `json:"message"`
		}
		var plain string
		if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
			parts = append([]string{nested.Message}, parts...)
		} else if json.Unmarshal(env.Error, &plain) == nil && plain != "" {
			parts = append([]string{plain}, parts...)
		}
	}
	return strings.Join(parts, "; ")
}
