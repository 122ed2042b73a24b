package ingress

import (
	"encoding/json"
	"net/url"

	"github.com/relayhook/relayhook/internal/ingest"
	"github.com/relayhook/relayhook/internal/model"
)

// Kind tags which of the recognized body shapes an Envelope resolved to.
// Parsing the wire shape into this tagged variant happens once, at the
// ingress boundary; everything downstream only ever sees a typed
// ingest.Notification or ingest.ObjectRecord, never raw JSON.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSubscriptionConfirmation
	KindPushNotification
	KindObjectCreatedEvent
	KindManualReplay
)

// Envelope is the parsed, typed form of one POST /email/inbound/s3 body.
type Envelope struct {
	Kind          Kind
	SubscribeURL  string
	Notification  ingest.Notification
	ObjectRecords []ingest.ObjectRecord
}

// ParseEnvelope resolves body into a typed Envelope. rawDelivery reflects
// the X-Amz-Sns-Rawdelivery header (or equivalent marker): when set, body
// is itself the inner notification rather than an SNS envelope wrapping one.
func ParseEnvelope(body []byte, rawDelivery bool) (Envelope, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return Envelope{}, err
	}

	if typ, _ := m["Type"].(string); typ == "SubscriptionConfirmation" {
		url, _ := m["SubscribeURL"].(string)
		return Envelope{Kind: KindSubscriptionConfirmation, SubscribeURL: url}, nil
	}

	if typ, _ := m["Type"].(string); typ == "Notification" {
		msg, _ := m["Message"].(string)
		var inner map[string]interface{}
		if err := json.Unmarshal([]byte(msg), &inner); err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: KindPushNotification, Notification: notificationFromMap(inner)}, nil
	}

	if records, ok := m["Records"].([]interface{}); ok {
		return Envelope{Kind: KindObjectCreatedEvent, ObjectRecords: objectRecordsFromRecords(records)}, nil
	}

	if bucket, key, ok := bucketAndKey(m); ok && len(m) <= 2 {
		return Envelope{Kind: KindManualReplay, ObjectRecords: []ingest.ObjectRecord{{Bucket: bucket, Key: key}}}, nil
	}

	if rawDelivery {
		return Envelope{Kind: KindPushNotification, Notification: notificationFromMap(m)}, nil
	}

	// Fall back to treating an un-headered body as a raw push notification
	// whenever it carries the upstream "mail" envelope shape, for upstreams
	// that omit the raw-delivery marker. Anything else is unrecognized.
	if _, ok := m["mail"]; ok {
		return Envelope{Kind: KindPushNotification, Notification: notificationFromMap(m)}, nil
	}

	return Envelope{Kind: KindUnrecognized}, nil
}

func objectRecordsFromRecords(records []interface{}) []ingest.ObjectRecord {
	out := make([]ingest.ObjectRecord, 0, len(records))
	for _, raw := range records {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		s3, _ := rec["s3"].(map[string]interface{})
		if s3 == nil {
			continue
		}
		bucket, _ := s3["bucket"].(map[string]interface{})
		object, _ := s3["object"].(map[string]interface{})

		name, _ := bucket["name"].(string)
		key, _ := object["key"].(string)
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if key == "" {
			continue
		}
		out = append(out, ingest.ObjectRecord{Bucket: name, Key: key})
	}
	return out
}

// bucketAndKey recognizes the manual-replay shape {bucket, key}.
func bucketAndKey(m map[string]interface{}) (bucket, key string, ok bool) {
	b, bOK := m["bucket"].(string)
	k, kOK := m["key"].(string)
	return b, k, bOK && kOK && k != ""
}

func notificationFromMap(m map[string]interface{}) ingest.Notification {
	n := ingest.Notification{Raw: model.JSONMap(m)}
	n.MessageID = stringPath(m, "mail", "messageId")
	n.Subject = stringPath(m, "mail", "commonHeaders", "subject")
	n.Bucket = firstNonEmpty(
		stringPath(m, "receipt", "action", "bucketName"),
		stringField(m, "bucketName"),
	)
	n.ObjectKey = firstNonEmpty(
		stringPath(m, "receipt", "action", "objectKey"),
		stringField(m, "objectKey"),
	)
	n.ContentBase64 = stringField(m, "content")
	return n
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

// stringPath walks nested maps, returning "" if any segment is missing or
// not itself a map/string as expected.
func stringPath(m map[string]interface{}, path ...string) string {
	cur := interface{}(m)
	for i, seg := range path {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		v, ok := asMap[seg]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := v.(string)
			return s
		}
		cur = v
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
