package runevents

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
)

func TestPublish_SendsKeyedJSON(t *testing.T) {
	cfg := mocks.NewTestConfig()
	prod := mocks.NewAsyncProducer(t, cfg)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "roughness-runs" {
			t.Errorf("topic=%q", m.Topic)
		}
		k, _ := m.Key.Encode()
		if string(k) != "r-42" {
			t.Errorf("key=%q", k)
		}
		v, _ := m.Value.Encode()
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		if ev.Class != model.ClassHigh || ev.Status != "ok" || ev.TS.IsZero() {
			t.Errorf("event=%+v", ev)
		}
		return nil
	})

	p := NewWithProducer(prod, "roughness-runs", 4, slog.New(slog.DiscardHandler))
	p.Publish(Event{RunID: "r-42", Class: model.ClassHigh, Status: "ok"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublish_AfterCloseIsDropped(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	p := NewWithProducer(prod, "roughness-runs", 1, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Publish(Event{RunID: "late"})
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestPublish_ProducerErrorIsLogged(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mocks.NewTestConfig())
	prod.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := NewWithProducer(prod, "roughness-runs", 4, slog.New(slog.DiscardHandler))
	p.Publish(Event{RunID: "r-1"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
