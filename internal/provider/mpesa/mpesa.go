package mpesa

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"mkopaji/internal/provider"
)

const (
	sandboxURL    = "https://sandbox.safaricom.co.ke"
	productionURL = "https://api.safaricom.co.ke"

	pathOAuth    = "/oauth/v1/generate?grant_type=client_credentials"
	pathSTKPush  = "/mpesa/stkpush/v1/processrequest"
	pathSTKQuery = "/mpesa/stkpushquery/v1/query"

	// Daraja answers a query for an unfinished prompt with this error code.
	codeStillProcessing = "500.001.1001"
)

// Spike-arrest and quota errors Daraja returns instead of (or alongside) 429.
var rateLimitCodes = map[string]bool{
	"500.003.02": true,
	"500.003.03": true,
	"429.001.01": true,
}

// East Africa Time; Daraja validates the password timestamp against it.
var eat = time.FixedZone("EAT", 3*3600)

// baseURL returns the appropriate base URL for the environment
func baseURL(env string) string {
	if env == "production" {
		return productionURL
	}
	return sandboxURL
}

func timestamp(now time.Time) string {
	return now.In(eat).Format("20060102150405")
}

// password is base64(shortcode + passkey + timestamp).
func password(shortcode, passkey, ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + ts))
}

// statusFromResultCode maps an STK ResultCode onto a transaction status.
func statusFromResultCode(code int) string {
	switch code {
	case 0:
		return provider.StatusSuccess
	case 1032: // request cancelled by user
		return provider.StatusCancelled
	default: // 1 insufficient funds, 1037 unreachable, 2001 wrong PIN, 1019 expired, ...
		return provider.StatusFailed
	}
}

func parseResultCode(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func basicAuth(key, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"+secret))
}

// flexString accepts Daraja codes sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
