package cmds

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

func writeOutput(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return errors.Wrap(err, "could not marshal output")
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "could not marshal output")
		}
		return enc.Close()
	}
	return errors.Errorf("unknown output format %q", format)
}
