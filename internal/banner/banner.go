package banner

import (
	"fmt"
	"io"
)

const Version = "1.0.0"

func Print(w io.Writer) {
	banner := `
              __  __        __
  ____ ___  __/ /_/ /_  ____/ /
 / __ '/ / / / __/ __ \/ __  /
/ /_/ / /_/ / /_/ / / / /_/ /
\__,_/\__,_/\__/_/ /_/\__,_/
            v%s - Registration Pipeline
`
	fmt.Fprintf(w, banner, Version)
	fmt.Fprintln(w, "------------------------------------------------")
}
