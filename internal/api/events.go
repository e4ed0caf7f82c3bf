package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/matheus3301/smsinbox/internal/bus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const watchBuffer = 256

// WatchEvents streams bus events until the client goes away. The request may
// carry "namespaces", a list of kind prefixes; no list means every event.
func (s *Service) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	var prefixes []string
	for _, v := range req.GetFields()["namespaces"].GetListValue().GetValues() {
		if p := v.GetStringValue(); p != "" {
			prefixes = append(prefixes, p)
		}
	}

	ch, unsub := s.Bus.Subscribe("", watchBuffer)
	defer unsub()
	ctx := stream.Context()

	for {
		select {
		case evt := <-ch:
			if !matches(evt.Kind, prefixes) {
				continue
			}
			out, err := eventStruct(evt)
			if err != nil {
				s.Logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func matches(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

// eventStruct renders evt as {"kind", "timestamp", "payload"}. Payloads are
// Go values, so they go through their JSON form first.
func eventStruct(evt bus.Event) (*structpb.Struct, error) {
	var payload any
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
	}
	return structpb.NewStruct(map[string]any{
		"kind":      evt.Kind,
		"timestamp": evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":   payload,
	})
}
