package temporal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type CanonicalSuite struct {
	suite.Suite
}

func TestCanonicalSuite(t *testing.T) {
	suite.Run(t, new(CanonicalSuite))
}

func (s *CanonicalSuite) TestKeysSorted() {
	out := Canonicalize(Fields{"b": 2, "a": 1, "c": 3})
	s.Equal(`{"a":1,"b":2,"c":3}`, string(out))
}

func (s *CanonicalSuite) TestCompactSeparators() {
	out := Canonicalize(Fields{"name": "Paamiut", "code": int64(805)})
	s.Equal(`{"code":805,"name":"Paamiut"}`, string(out))
}

func (s *CanonicalSuite) TestValueEncodings() {
	s.Run("nil", func() {
		s.Equal(`{"x":null}`, string(Canonicalize(Fields{"x": nil})))
	})
	s.Run("bool", func() {
		s.Equal(`{"x":true}`, string(Canonicalize(Fields{"x": true})))
	})
	s.Run("integral float renders as int", func() {
		s.Equal(`{"x":42}`, string(Canonicalize(Fields{"x": float64(42)})))
	})
	s.Run("timestamp uses numeric offset layout", func() {
		ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		s.Equal(`{"x":"2026-03-14T09:30:00+0000"}`, string(Canonicalize(Fields{"x": ts})))
	})
	s.Run("nil time pointer", func() {
		var ts *time.Time
		s.Equal(`{"x":null}`, string(Canonicalize(Fields{"x": ts})))
	})
	s.Run("uuid is lowercase", func() {
		id := uuid.MustParse("550E8400-E29B-41D4-A716-446655440000")
		s.Equal(`{"x":"550e8400-e29b-41d4-a716-446655440000"}`, string(Canonicalize(Fields{"x": id})))
	})
	s.Run("string escaping", func() {
		s.Equal(`{"x":"a\"b"}`, string(Canonicalize(Fields{"x": `a"b`})))
	})
}

func (s *CanonicalSuite) TestDeterministic() {
	fields := Fields{
		"name":   "Nuuk",
		"code":   int64(600),
		"active": true,
		"note":   nil,
	}
	first := Canonicalize(fields)
	for i := 0; i < 20; i++ {
		s.Equal(string(first), string(Canonicalize(fields)))
	}
}

type ChecksumSuite struct {
	suite.Suite
}

func TestChecksumSuite(t *testing.T) {
	suite.Run(t, new(ChecksumSuite))
}

func (s *ChecksumSuite) TestStableAcrossEquivalentInputs() {
	a := Fields{"code": int64(600), "name": "Nuuk"}
	b := Fields{"name": "Nuuk", "code": float64(600)}
	s.Equal(Checksum(a), Checksum(b))
}

func (s *ChecksumSuite) TestDistinguishesContent() {
	a := Fields{"name": "Nuuk"}
	b := Fields{"name": "Sisimiut"}
	s.NotEqual(Checksum(a), Checksum(b))
}

func (s *ChecksumSuite) TestHexSHA256Shape() {
	c := Checksum(Fields{"name": "Nuuk"})
	s.Len(c, 64)
	s.Regexp(`^[0-9a-f]{64}$`, c)
}

func (s *ChecksumSuite) TestRegistrationMemoization() {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	r := &Registration{
		ObjectID:         uuid.New(),
		Type:             "locality",
		RegistrationFrom: now,
		Linked:           true,
		Fields:           Fields{"name": "Qaqortoq"},
	}
	first := r.EnsureChecksum()
	s.NotEmpty(first)

	// Once memoized, the stored value wins even if fields change.
	r.Fields["name"] = "Nanortalik"
	s.Equal(first, r.EnsureChecksum())
}

func (s *ChecksumSuite) TestChecksumExcludesItself() {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	mk := func() *Registration {
		return &Registration{
			ObjectID:         uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
			Type:             "locality",
			RegistrationFrom: now,
			Linked:           true,
			Fields:           Fields{"name": "Qaqortoq"},
		}
	}
	a, b := mk(), mk()
	b.Checksum = ""
	a.EnsureChecksum()
	s.Equal(a.Checksum, b.EnsureChecksum())
}
