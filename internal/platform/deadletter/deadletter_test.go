package deadletter

import (
	"testing"
)

func TestToKafkaMessageCarriesHeaders(t *testing.T) {
	m := toKafkaMessage(Message{
		Kind:      "ledger_write",
		Key:       "ref-1",
		Payload:   []byte(`{"reference":"ref-1"}`),
		Attempts:  5,
		LastError: "connection reset",
	})
	if string(m.Key) != "ref-1" {
		t.Fatalf("key: want=%q got=%q", "ref-1", m.Key)
	}
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	want := map[string]string{
		HeaderKind:      "ledger_write",
		HeaderAttempts:  "5",
		HeaderLastError: "connection reset",
		HeaderSource:    "outbox",
	}
	for k, v := range want {
		if headers[k] != v {
			t.Fatalf("header %s: want=%q got=%q", k, v, headers[k])
		}
	}
}

func TestToKafkaMessageDefaultsEmptyPayload(t *testing.T) {
	m := toKafkaMessage(Message{Kind: "org_notification", Source: "direct"})
	if string(m.Value) != "{}" {
		t.Fatalf("value: want={} got=%q", m.Value)
	}
}

func TestNewKafkaWriterRequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewKafkaWriter(nil, nil, "dlt"); err == nil {
		t.Fatalf("NewKafkaWriter: expected error for missing brokers")
	}
	if _, err := NewKafkaWriter(nil, []string{"localhost:9092"}, " "); err == nil {
		t.Fatalf("NewKafkaWriter: expected error for missing topic")
	}
}
