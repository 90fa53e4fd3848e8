package formfill

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	fixedNow(t)

	cases := []struct {
		field Field
		in    string
		want  string
	}{
		{FullName, "  lakshmi   PRIYA ", "Lakshmi Priya"},
		{DateOfBirth, "1990-01-31", "1990-01-31"},
		{DateOfBirth, "31-01-1990", "1990-01-31"},
		{DateOfBirth, "5th August, 1979", "1979-08-05"},
		{DateOfBirth, "August 5th, 1979", "1979-08-05"},
		{Gender, "F", "female"},
		{Gender, "transgender", "other"},
		{Email, "sreeja at gmail dot com", "sreeja@gmail.com"},
		{Phone, "094470 01122", "9447001122"},
		{Pincode, "682-001", "682001"},
		{AadhaarNumber, "9876 5432 1098", "987654321098"},
		{Address, "Near Temple, Kottayam", "Near Temple, Kottayam"},
		{CertificateType, "Birth certificate", "Birth Certificate"},
		{CertificateType, "nativity certificate", "Domicile Certificate"},
		{CertificateType, "cast", "Caste Certificate"},
		{CertificateType, "incum", "Income Certificate"},
	}
	for _, tc := range cases {
		t.Run(string(tc.field)+"/"+tc.in, func(t *testing.T) {
			got, err := Normalize(tc.field, tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	fixedNow(t)

	cases := []struct {
		field Field
		in    string
	}{
		{FullName, "   "},
		{FullName, "R2D2"},
		{DateOfBirth, "yesterday"},
		{DateOfBirth, "2030-01-01"},
		{DateOfBirth, "1850-06-01"},
		{Gender, "unknown"},
		{Email, "not-an-email"},
		{Email, "user@localhost"},
		{Phone, "12345"},
		{Phone, "1234567890"},
		{Pincode, "06800"},
		{Pincode, "012345"},
		{Pincode, "68a001"},
		{AadhaarNumber, "1234 5678 9012"},
		{AadhaarNumber, "2345 6789"},
		{Address, "abc"},
		{CertificateType, "certificate"},
		{CertificateType, "passport"},
	}
	for _, tc := range cases {
		t.Run(string(tc.field)+"/"+tc.in, func(t *testing.T) {
			_, err := Normalize(tc.field, tc.in)
			require.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestNormalizeUnknownField(t *testing.T) {
	_, err := Normalize(Field("age"), "40")
	require.ErrorIs(t, err, ErrUnknownField)
}
