package queue

import "testing"

func TestExtractErrorMessage(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty body", "", "unknown delivery error"},
		{"plain text", "connection reset by peer", "connection reset by peer"},
		{"json string", `"smtp handshake failed"`, "smtp handshake failed"},
		{"error string field", `{"error":"rate limited"}`, "rate limited"},
		{"error object field", `{"error":{"message":"mailbox full","code":"552"}}`, "552: mailbox full"},
		{"message field", `{"message":"template render failed"}`, "template render failed"},
		{"nested json in string", `"{\"error\":\"provider outage\"}"`, "provider outage"},
		{"json string in body field", `{"body":"{\"message\":\"bounced\"}"}`, "bounced"},
		{"whitespace only", "   ", "unknown delivery error"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ExtractErrorMessage([]byte(c.raw)); got != c.want {
				t.Fatalf("ExtractErrorMessage(%q) = %q, want %q", c.raw, got, c.want)
			}
		})
	}
}

func TestDecodeWorkerResponse(t *testing.T) {
	response, ok := DecodeWorkerResponse([]byte(`{"results":[{"job_id":"j1","provider_message_id":"p1"}]}`))
	if !ok {
		t.Fatalf("expected valid response to decode")
	}
	if len(response.Results) != 1 || !response.Results[0].Succeeded() {
		t.Fatalf("unexpected response: %+v", response)
	}

	if _, ok := DecodeWorkerResponse(nil); ok {
		t.Fatalf("empty body must not decode")
	}
	if _, ok := DecodeWorkerResponse([]byte("<html>bad gateway</html>")); ok {
		t.Fatalf("non-JSON body must not decode")
	}
}
