package interfaces

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"stockledger/internal/service/payment/domain"
)

// SignatureHeader 支付渠道放签名的请求头
const SignatureHeader = "Stripe-Signature"

// Sign 生成 "t=<unix>,v1=<hex>" 格式的签名头，测试和本地联调时使用
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(ts, payload, secret)
}

// VerifySignature 校验签名头
// 签名是 HMAC-SHA256(secret, "<t>.<payload>")，允许多个 v1（密钥轮换期间）
// tolerance 为 0 时不校验时间戳
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return domain.ErrMissingSignature
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return errors.Wrap(domain.ErrInvalidSignature, "malformed signature header")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.Wrap(domain.ErrInvalidSignature, "bad timestamp")
	}
	if tolerance > 0 {
		if age := now.Sub(time.Unix(unix, 0)); age > tolerance || age < -tolerance {
			return errors.Wrapf(domain.ErrInvalidSignature, "timestamp outside tolerance (%s)", age.Truncate(time.Second))
		}
	}

	expected := computeSignature(ts, payload, secret)
	for _, c := range candidates {
		if hmac.Equal([]byte(expected), []byte(c)) {
			return nil
		}
	}
	return errors.Wrap(domain.ErrInvalidSignature, "no matching signature")
}

func computeSignature(ts string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
