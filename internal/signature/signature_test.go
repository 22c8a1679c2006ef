package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestSign_MatchesSortedConcatenation(t *testing.T) {
	p := Params{"b": "2", "a": "1", "c": "x"}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("a1b2cx"))
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign(p, secret))
}

func TestSign_IgnoresExistingTag(t *testing.T) {
	p := Params{"a": "1"}
	tagged := Params{"a": "1", TagKey: "whatever"}

	assert.Equal(t, Sign(p, secret), Sign(tagged, secret))
}

func TestSign_Deterministic(t *testing.T) {
	p := Params{"apiKey": "k", "token": "tok"}
	assert.Equal(t, Sign(p, secret), Sign(p, secret))
	assert.NotEqual(t, Sign(p, secret), Sign(p, "other-secret"))
}

func TestSet_NumericCanonicalForm(t *testing.T) {
	tests := []struct {
		name string
		v    any
	}{
		{"int", 1000},
		{"int64", int64(1000)},
		{"uint32", uint32(1000)},
		{"float64", float64(1000)},
		{"decimal", decimal.NewFromInt(1000)},
		{"string", "1000"},
	}

	ref := Params{"amount": "1000"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{}
			p.Set("amount", tt.v)
			assert.Equal(t, "1000", p["amount"])
			assert.Equal(t, Sign(ref, secret), Sign(p, secret))
		})
	}
}

func TestSet_FloatWithoutExponent(t *testing.T) {
	p := Params{}
	p.Set("amount", 12345678.5)
	assert.Equal(t, "12345678.5", p["amount"])
}

func TestVerify(t *testing.T) {
	p := Params{"token": "abc", "amount": "1000"}
	signed := Signed(p, secret)

	assert.True(t, Verify(signed, secret))
	assert.False(t, Verify(p, secret), "missing tag")
	assert.False(t, Verify(signed, "wrong"))

	empty := Params{"token": "abc", TagKey: ""}
	assert.False(t, Verify(empty, secret))
}

func TestVerify_FlippedTagByte(t *testing.T) {
	signed := Signed(Params{"token": "abc"}, secret)
	tag := []byte(signed[TagKey])

	for i := range tag {
		flipped := make([]byte, len(tag))
		copy(flipped, tag)
		if flipped[i] == 'a' {
			flipped[i] = 'b'
		} else {
			flipped[i] = 'a'
		}

		p := Params{"token": "abc", TagKey: string(flipped)}
		require.False(t, Verify(p, secret), "byte %d", i)
	}
}

func TestVerify_UppercaseTagRejected(t *testing.T) {
	signed := Signed(Params{"token": "abc"}, secret)
	upper := []byte(signed[TagKey])
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 'a' + 'A'
			break
		}
	}
	signed[TagKey] = string(upper)

	assert.False(t, Verify(signed, secret))
}

func TestVerify_TamperedValue(t *testing.T) {
	signed := Signed(Params{"token": "abc", "amount": "1000"}, secret)
	signed["amount"] = "1"

	assert.False(t, Verify(signed, secret))
}

func TestVerify_RenamedKey(t *testing.T) {
	signed := Signed(Params{"token": "abc"}, secret)
	signed["tokem"] = signed["token"]
	delete(signed, "token")

	assert.False(t, Verify(signed, secret))
}

func TestFromValues_AndEncode(t *testing.T) {
	v := url.Values{"token": {"abc", "ignored"}, "amount": {"1000"}}
	p := FromValues(v)

	assert.Equal(t, Params{"token": "abc", "amount": "1000"}, p)

	signed := Signed(p, secret)
	decoded, err := url.ParseQuery(signed.Encode())
	require.NoError(t, err)
	assert.True(t, Verify(FromValues(decoded), secret))
}
