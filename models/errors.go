package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrConfigInvalid is returned for malformed grid, agent, or experiment parameters.
var ErrConfigInvalid = errors.New("config invalid")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func marshalCodes(codes [][]int) ([]byte, error) {
	return json.Marshal(codes)
}

func unmarshalCodes(data []byte) (codes [][]int, err error) {
	if err = json.Unmarshal(data, &codes); err != nil {
		err = invalidf("grid: %v", err)
	}
	return
}
