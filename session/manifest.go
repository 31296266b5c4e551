package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// writeManifest records the session's namespace in db.txt next to the
// configuration, so operators can see what loaded without a shell.
func writeManifest(st *state) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# beamsh session %s\n", time.Now().Format(time.RFC3339))
	if st.cfg.Hutch != "" {
		fmt.Fprintf(&sb, "# hutch: %s\n", st.cfg.Hutch)
	}
	if st.experiment != "" {
		fmt.Fprintf(&sb, "# experiment: %s\n", st.experiment)
	}
	sb.WriteString("\n")

	for _, name := range st.ns.SortedNames() {
		doc := st.ns.Doc(name)
		if doc == "" {
			fmt.Fprintf(&sb, "%s\n", name)
			continue
		}
		fmt.Fprintf(&sb, "%-24s %s\n", name, doc)
	}

	path := filepath.Join(st.cfg.Dir, "db.txt")
	return os.WriteFile(path, []byte(sb.String()), 0o666)
}
