package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"

	"mkopaji/internal/provider"
)

type callbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        flexString `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback converts the STK callback Daraja posts to CallBackURL.
func ParseCallback(body []byte) (*provider.CallbackResult, error) {
	var cb stkCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode stk callback: %w", err)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, fmt.Errorf("unrecognized callback shape")
	}
	code, ok := parseResultCode(string(stk.ResultCode))
	if !ok {
		return nil, fmt.Errorf("callback %s: invalid ResultCode %q", stk.CheckoutRequestID, stk.ResultCode)
	}

	out := &provider.CallbackResult{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        stk.ResultDesc,
		Status:            statusFromResultCode(code),
	}
	for _, it := range stk.CallbackMetadata.Item {
		switch it.Name {
		case "Amount":
			if f, ok := toFloat(it.Value); ok {
				out.Amount = int64(f)
			}
		case "MpesaReceiptNumber":
			out.MpesaReceiptNumber = toString(it.Value)
		case "PhoneNumber":
			out.PhoneNumber = toString(it.Value)
		case "TransactionDate":
			out.TransactionDate = toString(it.Value)
		}
	}
	return out, nil
}

// some sandboxes serialize numbers as strings
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', 0, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
