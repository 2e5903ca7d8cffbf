package stdcaps

import (
	"encoding/json"

	"github.com/nrf1proto/capsule/pkg/errs"
	"github.com/nrf1proto/capsule/pkg/view"
)

// jsonViewToCELInput decodes a JsonView's raw JSON into a plain
// map[string]interface{}/[]interface{}/scalar tree CEL can bind as its
// `input` dyn variable. $bytes wrapper objects are passed through as
// ordinary nested maps; CEL rules over nrf1 capability config are not
// expected to inspect raw byte payloads.
func jsonViewToCELInput(j view.JsonView) (interface{}, error) {
	var out interface{}
	if err := json.Unmarshal(j.Raw(), &out); err != nil {
		return nil, errs.New(errs.Internal, "cap-policy: re-decoding json view failed: %v", err)
	}
	return out, nil
}
