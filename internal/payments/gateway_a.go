package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
)

const (
	gatewayAParamTxnRef        = "vnp_TxnRef"
	gatewayAParamResponseCode  = "vnp_ResponseCode"
	gatewayAParamTxnStatus     = "vnp_TransactionStatus"
	gatewayAParamSecureHash    = "vnp_SecureHash"
	gatewayAParamSecureHashTyp = "vnp_SecureHashType"
	gatewayASuccessCode        = "00"
	gatewayADateLayout         = "20060102150405"
	gatewayAMaxOrderInfo       = 255
)

// Gateway A timestamps are expressed in Indochina Time.
var gatewayAZone = time.FixedZone("ICT", 7*60*60)

var gatewayALocales = language.NewMatcher([]language.Tag{language.Vietnamese, language.English})

// GatewayAConfig configures the signed-redirect gateway.
type GatewayAConfig struct {
	PayURL        string
	TMNCode       string
	HashSecret    string
	Version       string
	OrderType     string
	CurrencyCode  string
	DefaultLocale string
	ExpireAfter   time.Duration
	Clock         func() time.Time
	Logger        Logger
}

// GatewayAAdapter builds HMAC-SHA512 signed payment URLs and verifies signed returns.
type GatewayAAdapter struct {
	cfg    GatewayAConfig
	policy *bluemonday.Policy
	clock  func() time.Time
	logger Logger
}

// NewGatewayAAdapter validates cfg and constructs the adapter.
func NewGatewayAAdapter(cfg GatewayAConfig) (*GatewayAAdapter, error) {
	cfg.PayURL = strings.TrimSpace(cfg.PayURL)
	cfg.TMNCode = strings.TrimSpace(cfg.TMNCode)
	if cfg.PayURL == "" {
		return nil, errors.New("gateway a: pay url is required")
	}
	if _, err := url.Parse(cfg.PayURL); err != nil {
		return nil, fmt.Errorf("gateway a: invalid pay url: %w", err)
	}
	if cfg.TMNCode == "" {
		return nil, errors.New("gateway a: tmn code is required")
	}
	if cfg.HashSecret == "" {
		return nil, errors.New("gateway a: hash secret is required")
	}
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = "VND"
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "vn"
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &GatewayAAdapter{
		cfg:    cfg,
		policy: bluemonday.StrictPolicy(),
		clock:  clock,
		logger: logger,
	}, nil
}

// Kind implements Adapter.
func (a *GatewayAAdapter) Kind() Kind { return KindGatewayA }

// Initiate implements Adapter by returning a signed redirect URL. No network call is made.
func (a *GatewayAAdapter) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	if strings.TrimSpace(req.CorrelationID) == "" {
		return Initiation{}, fmt.Errorf("%w: gateway a: correlation id is required", ErrProviderUnavailable)
	}
	if strings.TrimSpace(req.ReturnURL) == "" {
		return Initiation{}, fmt.Errorf("%w: gateway a: return url is required", ErrProviderUnavailable)
	}

	now := a.clock().In(gatewayAZone)
	expires := now.Add(a.cfg.ExpireAfter)

	params := url.Values{}
	params.Set("vnp_Version", a.cfg.Version)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", a.cfg.TMNCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", a.cfg.CurrencyCode)
	params.Set(gatewayAParamTxnRef, req.CorrelationID)
	params.Set("vnp_OrderInfo", a.orderInfo(req))
	params.Set("vnp_OrderType", a.cfg.OrderType)
	params.Set("vnp_Locale", a.locale(req.AcceptLanguage))
	params.Set("vnp_ReturnUrl", req.ReturnURL)
	params.Set("vnp_IpAddr", defaultString(strings.TrimSpace(req.ClientIP), "127.0.0.1"))
	params.Set("vnp_CreateDate", now.Format(gatewayADateLayout))
	params.Set("vnp_ExpireDate", expires.Format(gatewayADateLayout))

	query := params.Encode()
	signed := a.cfg.PayURL + "?" + query + "&" + gatewayAParamSecureHash + "=" + a.sign(query)

	a.logger(ctx, "payments.gateway_a.url_signed", map[string]any{
		"correlationId": req.CorrelationID,
		"amount":        req.Amount,
		"locale":        params.Get("vnp_Locale"),
	})

	return Initiation{
		Mode:        ModeRedirect,
		RedirectURL: signed,
		ExpiresAt:   expires.UTC(),
	}, nil
}

// Outcome implements Adapter. Success requires both the response code and the transaction
// status to equal "00"; anything else is a failure. The signature is checked first.
func (a *GatewayAAdapter) Outcome(result ProviderResult) (Outcome, error) {
	ret, ok := result.(GatewayAReturn)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: gateway a got %T", ErrResultMismatch, result)
	}
	if err := a.Verify(ret.Params); err != nil {
		return Outcome{}, err
	}
	code := strings.TrimSpace(ret.Params.Get(gatewayAParamResponseCode))
	status := strings.TrimSpace(ret.Params.Get(gatewayAParamTxnStatus))
	outcome := Outcome{
		Status:        StatusFailed,
		CorrelationID: ret.Correlation(),
		Code:          code,
	}
	if code == gatewayASuccessCode && status == gatewayASuccessCode {
		outcome.Status = StatusSucceeded
	}
	return outcome, nil
}

// Verify checks the vnp_SecureHash of a signed parameter set.
func (a *GatewayAAdapter) Verify(params url.Values) error {
	provided := strings.TrimSpace(params.Get(gatewayAParamSecureHash))
	if provided == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidSignature, gatewayAParamSecureHash)
	}
	given, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return fmt.Errorf("%w: malformed hash", ErrInvalidSignature)
	}

	unsigned := url.Values{}
	for key, values := range params {
		if key == gatewayAParamSecureHash || key == gatewayAParamSecureHashTyp {
			continue
		}
		if !strings.HasPrefix(key, "vnp_") {
			continue
		}
		unsigned[key] = values
	}
	expected, _ := hex.DecodeString(a.sign(unsigned.Encode()))
	if !hmac.Equal(given, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// sign returns the hex HMAC-SHA512 of data. url.Values.Encode sorts keys, which is the
// canonical form the gateway signs.
func (a *GatewayAAdapter) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(a.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *GatewayAAdapter) orderInfo(req InitiateRequest) string {
	info := strings.TrimSpace(a.policy.Sanitize(req.OrderInfo))
	if info == "" {
		info = "Thanh toan don hang " + req.CorrelationID
	}
	if len(info) > gatewayAMaxOrderInfo {
		info = truncateRunes(info, gatewayAMaxOrderInfo)
	}
	return info
}

func (a *GatewayAAdapter) locale(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return a.cfg.DefaultLocale
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return a.cfg.DefaultLocale
	}
	_, index, confidence := gatewayALocales.Match(tags...)
	if confidence == language.No {
		return a.cfg.DefaultLocale
	}
	if index == 1 {
		return "en"
	}
	return "vn"
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	out := make([]rune, 0, limit)
	size := 0
	for _, r := range s {
		n := len(string(r))
		if size+n > limit {
			break
		}
		out = append(out, r)
		size += n
	}
	return string(out)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
