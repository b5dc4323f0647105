package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/state"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xabcdefABCDEF1234567890123456789012345678", true},
		{"0x0000000000000000000000000000000000000000", true},

		// Invalid cases
		{"1234567890123456789012345678901234567890", false},     // No 0x
		{"0x12345678901234567890123456789012345678", false},     // Too short
		{"0x123456789012345678901234567890123456789012", false}, // Too long
		{"0xGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG", false},   // Invalid chars
		{"", false},
		{"0x", false},
	}

	for _, tc := range tests {
		if got := IsValidAddress(tc.addr); got != tc.valid {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tc.addr, got, tc.valid)
		}
	}
}

func TestParsePrincipal(t *testing.T) {
	tests := []struct {
		input   string
		want    state.Principal
		wantErr bool
	}{
		{"0x1234567890123456789012345678901234567890", "0x1234567890123456789012345678901234567890", false},
		{"0xABCDEF1234567890123456789012345678901234", "0xabcdef1234567890123456789012345678901234", false},
		{"  0x1234567890123456789012345678901234567890  ", "0x1234567890123456789012345678901234567890", false},
		{"1234567890123456789012345678901234567890", "", true},
		{"alice", "", true},
	}

	for _, tc := range tests {
		got, err := ParsePrincipal(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParsePrincipal(%q) err = %v, wantErr %v", tc.input, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePrincipal(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParseUint(t *testing.T) {
	if v, err := ParseUint("18446744073709551615"); err != nil || v != 18446744073709551615 {
		t.Errorf("ParseUint(max) = %d, %v", v, err)
	}
	for _, bad := range []string{"", "-1", "1.5", "18446744073709551616", "abc"} {
		if _, err := ParseUint(bad); err != ErrInvalidNumber {
			t.Errorf("ParseUint(%q) err = %v, want ErrInvalidNumber", bad, err)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("recipient", ""),
		ValidAddress("sender", "nope"),
		ValidAddress("recipient", ""),
		ValidUint("amount", "12"),
		ValidUint("nonce", "x"),
	)
	if len(errs) != 3 {
		t.Fatalf("Expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "recipient: is required" {
		t.Errorf("Unexpected first error %q", errs.Error())
	}
	if len(Validate(ValidAddress("a", "0x1234567890123456789012345678901234567890"))) != 0 {
		t.Error("Expected valid address to pass")
	}
}

func TestAddressParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AddressParamMiddleware())
	r.GET("/escrows/:sender/:recipient/:nonce", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		path string
		want int
	}{
		{"/escrows/0x1234567890123456789012345678901234567890/0xabcdef1234567890123456789012345678901234/1", http.StatusOK},
		{"/escrows/bad/0xabcdef1234567890123456789012345678901234/1", http.StatusBadRequest},
		{"/escrows/0x1234567890123456789012345678901234567890/bad/1", http.StatusBadRequest},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", tc.path, nil))
		if w.Code != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, w.Code, tc.want)
		}
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount": 1234567890}`))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected oversized body to be rejected, got %d", w.Code)
	}
}
