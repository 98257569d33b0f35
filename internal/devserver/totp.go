package devserver

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RFC 6238 parameters used by authenticator apps by default.
const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpPeriod      = 30
	totpSkew        = 1
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTOTPSecret returns a random secret and its base32 form.
func NewTOTPSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, base32NoPad.EncodeToString(raw), nil
}

// DecodeTOTPSecret parses a base32 secret as shown to users.
func DecodeTOTPSecret(encoded string) ([]byte, error) {
	encoded = strings.ToUpper(strings.TrimRight(strings.TrimSpace(encoded), "="))
	raw, err := base32NoPad.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: totp secret: %v", ErrInvalidInput, err)
	}
	return raw, nil
}

// ProvisionURI builds the otpauth:// payload encoded in enrollment QR codes.
func ProvisionURI(issuer, account, secretBase32 string) string {
	label := url.PathEscape(issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", strconv.Itoa(totpDigits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// TOTPCode returns the code for secret at now.
func TOTPCode(secret []byte, now time.Time) string {
	return hotpCode(secret, now.Unix()/totpPeriod)
}

// VerifyTOTP checks code against secret within the allowed skew.
func VerifyTOTP(secret []byte, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits || len(secret) == 0 {
		return false
	}
	base := now.Unix() / totpPeriod
	for step := int64(-totpSkew); step <= totpSkew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(secret, counter)), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, bin%mod)
}
