package acme

import (
	"crypto/x509"
	"testing"
	"time"
)

func TestIsValid_UsesSuggestedWindowWhenPresent(t *testing.T) {
	future := time.Now().Add(time.Hour)
	if !IsValid(&x509.Certificate{}, &future) {
		t.Fatal("expected validity before the suggested window start")
	}

	past := time.Now().Add(-time.Hour)
	if IsValid(&x509.Certificate{}, &past) {
		t.Fatal("expected invalidity once the suggested window has started")
	}
}

func TestIsValid_FallsBackToCertificateLifetime(t *testing.T) {
	now := time.Now()
	freshlyIssued := &x509.Certificate{
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(89 * 24 * time.Hour),
	}
	if !IsValid(freshlyIssued, nil) {
		t.Fatal("expected a freshly issued long-lived certificate to be valid")
	}

	almostExpired := &x509.Certificate{
		NotBefore: now.Add(-89 * 24 * time.Hour),
		NotAfter:  now.Add(time.Hour),
	}
	if IsValid(almostExpired, nil) {
		t.Fatal("expected a nearly expired certificate to be invalid")
	}
}
