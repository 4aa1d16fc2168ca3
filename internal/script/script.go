// Package script renders the bash script executed inside the guest for a
// target's command. Rendering is pure: given a Context it always produces
// the same string, with no filesystem or network access.
package script

import (
	"strings"
	"text/template"
)

// Context binds the template parameters the guest script needs.
type Context struct {
	// ShouldCD is true only for kernel targets sharing the default host
	// rootfs; image targets and kernel targets with a non-default rootfs
	// do not cd into HostShared.
	ShouldCD bool
	// HostShared is the guest-side mount point of the shared working
	// directory (9p tag "vmtest", default /mnt/vmtest).
	HostShared string
	// CommandOutputPortName is the virtio-serial port name the guest
	// should try to redirect its output onto.
	CommandOutputPortName string
	// Command is the user-supplied shell fragment, passed through
	// verbatim: no quoting or escaping is applied.
	Command string
}

// tmplSource is the bash template. It must not escape or transform
// {{.Command}} — the caller is responsible for shell safety.
const tmplSource = `#!/bin/bash
{{- if .ShouldCD}}
cd {{.HostShared}} || true
{{- end}}

__vmtest_port=""
for __vmtest_name_file in /sys/class/virtio-ports/*/name; do
	if [ -r "$__vmtest_name_file" ] && [ "$(cat "$__vmtest_name_file" 2>/dev/null)" = "{{.CommandOutputPortName}}" ]; then
		__vmtest_port_dev="/dev/$(basename "$(dirname "$__vmtest_name_file")")"
		if [ -w "$__vmtest_port_dev" ]; then
			__vmtest_port="$__vmtest_port_dev"
		fi
		break
	fi
done

if [ -n "$__vmtest_port" ]; then
	exec >"$__vmtest_port" 2>&1
else
	echo "vmtest: output port not found, falling back to guest-exec capture" >&2
fi

{{.Command}}
`

var tmpl = template.Must(template.New("command").Parse(tmplSource))

// Render produces the guest script for ctx.
func Render(ctx Context) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, ctx); err != nil {
		return "", err
	}
	return sb.String(), nil
}
