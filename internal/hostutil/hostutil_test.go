package hostutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"  ", ""},

		// Full URLs passed through
		{"http://example.com/slots", "http://example.com/slots"},
		{"https://example.com", "https://example.com"},

		// Local files passed through
		{"file:///var/lib/slots.json", "file:///var/lib/slots.json"},
		{"/var/lib/slots.json", "/var/lib/slots.json"},
		{"./testdata/slots.json", "./testdata/slots.json"},

		// Localhost variants → http
		{"localhost:3000", "http://localhost:3000"},
		{"localhost:3000/api/slots", "http://localhost:3000/api/slots"},
		{"127.0.0.1", "http://127.0.0.1"},
		{"[::1]:3000", "http://[::1]:3000"},
		{"app.localhost", "http://app.localhost"},

		// Non-localhost → https
		{"booking.example.gov/api", "https://booking.example.gov/api"},
		{"localhost.example.com", "https://localhost.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestIsFileAndFilePath(t *testing.T) {
	assert.True(t, IsFile("file:///tmp/a.json"))
	assert.True(t, IsFile("../a.json"))
	assert.False(t, IsFile("https://example.com/a.json"))
	assert.Equal(t, "/tmp/a.json", FilePath("file:///tmp/a.json"))
	assert.Equal(t, "./a.json", FilePath("./a.json"))
}

func TestHostKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://Booking.Example.com/slots?x=1", "booking.example.com"},
		{"https://example.com:443/", "example.com"},
		{"http://example.com:80/", "example.com"},
		{"http://localhost:3000/api", "localhost:3000"},
		{"http://[::1]:8080/", "[::1]:8080"},
		{"/tmp/file.json", ""},
		{"://bad", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, HostKey(tt.input))
		})
	}
}

func TestIsLocalhost(t *testing.T) {
	assert.True(t, IsLocalhost("localhost"))
	assert.True(t, IsLocalhost("localhost:8080"))
	assert.True(t, IsLocalhost("api.localhost"))
	assert.True(t, IsLocalhost("127.0.0.1:9000"))
	assert.True(t, IsLocalhost("[::1]"))
	assert.False(t, IsLocalhost("example.com"))
	assert.False(t, IsLocalhost("localhost.example.com"))
}
