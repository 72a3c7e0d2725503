package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces deterministic JSON for digests and golden
// comparisons. The same snapshot always serializes to the same bytes:
//
//  1. Object keys are sorted
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. No floats (returns error)
//  5. No null (returns error)
//
// This is the only serialization that may be used for digest computation;
// the mirror uses ordinary encoding/json for the on-disk blob.
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

// Digest returns the SHA-256 of the snapshot's canonical JSON, hex encoded.
// Two stores holding field-for-field identical state produce the same
// digest, which makes convergence between devices cheap to check in logs.
func (s Snapshot) Digest() (string, error) {
	data, err := MarshalCanonical(s.CanonicalMap())
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalMap flattens the snapshot into plain maps and slices for
// MarshalCanonical. Collections are sorted by id or key so ordering in the
// store's internal slices never affects the digest. Chat messages are
// excluded: they are local-only and have no convergence meaning.
func (s Snapshot) CanonicalMap() map[string]any {
	goals := make([]any, len(s.Goals))
	for i, g := range sortedGoals(s.Goals) {
		goals[i] = map[string]any{
			"id":               g.ID,
			"title":            g.Title,
			"color":            g.Color,
			"icon":             g.Icon,
			"description":      g.Description,
			"default_duration": g.DefaultDuration,
			"deadline":         g.Deadline,
			"created_at":       g.CreatedAt,
		}
	}

	events := make([]any, len(s.Events))
	for i, e := range sortedEvents(s.Events) {
		events[i] = map[string]any{
			"id":                 e.ID,
			"title":              e.Title,
			"start_time":         e.StartTime,
			"end_time":           e.EndTime,
			"goal_id":            e.GoalID,
			"completed_duration": e.CompletedDuration,
		}
	}

	journal := make(map[string]any, len(s.Journal))
	for k, v := range s.Journal {
		journal[k] = v
	}
	memos := make(map[string]any, len(s.Memos))
	for k, v := range s.Memos {
		memos[k] = v
	}
	scores := make(map[string]any, len(s.Scores))
	for k, v := range s.Scores {
		scores[k] = v
	}

	return map[string]any{
		"user_id": s.UserID,
		"goals":   goals,
		"events":  events,
		"objective": map[string]any{
			"main_goal":  s.Objective.MainGoal,
			"deadline":   s.Objective.Deadline,
			"start_date": s.Objective.StartDate,
		},
		"journal": journal,
		"memos":   memos,
		"scores":  scores,
	}
}

func sortedGoals(in []Goal) []Goal {
	out := append([]Goal(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedEvents(in []CalendarEvent) []CalendarEvent {
	out := append([]CalendarEvent(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString writes a JSON string with NFC normalization at the
// serialization boundary and with HTML escaping disabled.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline, remove it.
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return result, nil
}

func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
