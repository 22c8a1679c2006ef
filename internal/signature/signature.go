// Package signature implements the gateway's parameter signing scheme:
// keys sorted lexicographically, "key"+"value" concatenated without separators,
// HMAC-SHA256 over the result, hex encoded under the "s" parameter.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TagKey is the parameter that carries the signature.
const TagKey = "s"

// Params is a canonicalized parameter set. Values are stored in their wire form.
type Params map[string]string

// FromValues builds Params from a decoded form or query, keeping the first value of each key.
func FromValues(v url.Values) Params {
	p := make(Params, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			p[k] = vals[0]
		}
	}
	return p
}

// Set stores v under key in its canonical decimal/string form.
func (p Params) Set(key string, v any) {
	p[key] = canonical(v)
}

// Encode form-encodes all parameters, tag included.
func (p Params) Encode() string {
	v := make(url.Values, len(p))
	for k, val := range p {
		v.Set(k, val)
	}
	return v.Encode()
}

func canonical(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case decimal.Decimal:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Sign returns the hex HMAC-SHA256 of params under secret. An existing tag is ignored.
func Sign(params Params, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == TagKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signed returns a copy of params with the tag set.
func Signed(params Params, secret string) Params {
	out := make(Params, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[TagKey] = Sign(params, secret)
	return out
}

// Verify reports whether params carries a valid tag for secret.
// It never panics; a missing or empty tag is simply invalid.
func Verify(params Params, secret string) bool {
	tag, ok := params[TagKey]
	if !ok || tag == "" {
		return false
	}

	want := Sign(params, secret)
	return hmac.Equal([]byte(tag), []byte(want))
}
