package twilio

import (
	"net/url"
	"testing"
)

func TestValidateSignature(t *testing.T) {
	// Worked example from Twilio's webhook security documentation.
	form := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+14158675310"},
		"Digits":  {"1234"},
		"From":    {"+14158675310"},
		"To":      {"+18005551212"},
	}
	reqURL := "https://mycompany.com/myapp.php?foo=1&bar=2"
	sig := "GvWf1cFY/Q7PnoempGyD5oXAezc="

	if !ValidateSignature("12345", reqURL, form, sig) {
		t.Error("documented signature should validate")
	}
	if ValidateSignature("12345", reqURL, form, "GvWf1cFY/Q7PnoempGyD5oXAezd=") {
		t.Error("altered signature should not validate")
	}
	if ValidateSignature("wrong-token", reqURL, form, sig) {
		t.Error("wrong auth token should not validate")
	}
}

func TestValidateSignature_WhatsAppForm(t *testing.T) {
	form := url.Values{
		"Body":       {"hi"},
		"From":       {"whatsapp:+27721234567"},
		"To":         {"whatsapp:+14155238886"},
		"MessageSid": {"SM123"},
	}
	reqURL := "https://bot.example.com/webhooks/whatsapp/inbound"
	sig := "Kingl3B27JsvmrYLm4f88U0UE9I="

	if !ValidateSignature("test-auth-token", reqURL, form, sig) {
		t.Error("signature should validate")
	}

	tampered := url.Values{}
	for k, v := range form {
		tampered[k] = v
	}
	tampered.Set("Body", "hi there")
	if ValidateSignature("test-auth-token", reqURL, tampered, sig) {
		t.Error("tampered body should not validate")
	}
}

func TestValidateSignature_EmptyInputs(t *testing.T) {
	form := url.Values{"Body": {"hi"}}
	if ValidateSignature("", "https://x", form, "sig") {
		t.Error("empty auth token must never validate")
	}
	if ValidateSignature("token", "https://x", form, "") {
		t.Error("empty signature must never validate")
	}
}
