package store

import "encoding/json"

// encodeJSONMap/decodeJSONMap marshal the small per-collector health maps
// stored as opaque JSON columns on host_info (§SUPPLEMENTED FEATURES).

func encodeJSONMap(m map[string]int) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeJSONMap(s string) map[string]int {
	m := map[string]int{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func encodeJSONBoolMap(m map[string]bool) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeJSONBoolMap(s string) map[string]bool {
	m := map[string]bool{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func encodeJSONStringMap(m map[string]string) string {
	if m == nil {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeJSONStringMap(s string) map[string]string {
	m := map[string]string{}
	_ = json.Unmarshal([]byte(s), &m)
	return m
}
