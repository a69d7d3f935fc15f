package store

import "github.com/tsmigrate/tsm/pkg/value"

// Typed field accessors shared by the readers. Every mismatch carries the
// key that failed.

func stringField(v *value.Value, key string) (string, error) {
	field, err := v.Get(key)
	if err != nil {
		return "", err
	}
	return field.Str()
}

func intField(v *value.Value, key string) (int64, error) {
	field, err := v.Get(key)
	if err != nil {
		return 0, err
	}
	return field.Int64()
}

func uintField(v *value.Value, key string) (uint64, error) {
	field, err := v.Get(key)
	if err != nil {
		return 0, err
	}
	return field.Uint64()
}

func boolField(v *value.Value, key string) (bool, error) {
	field, err := v.Get(key)
	if err != nil {
		return false, err
	}
	return field.Bool()
}

func floatField(v *value.Value, key string) (float64, error) {
	field, err := v.Get(key)
	if err != nil {
		return 0, err
	}
	return field.Float64()
}

func bytesField(v *value.Value, key string) ([]byte, error) {
	field, err := v.Get(key)
	if err != nil {
		return nil, err
	}
	return field.Bytes()
}
