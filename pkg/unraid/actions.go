package unraid

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Action names a control operation exposed by the agent.
type Action string

const (
	ActionContainerStart   Action = "container_start"
	ActionContainerStop    Action = "container_stop"
	ActionContainerRestart Action = "container_restart"
	ActionContainerPause   Action = "container_pause"
	ActionContainerUnpause Action = "container_unpause"

	ActionVMStart     Action = "vm_start"
	ActionVMStop      Action = "vm_stop"
	ActionVMRestart   Action = "vm_restart"
	ActionVMPause     Action = "vm_pause"
	ActionVMResume    Action = "vm_resume"
	ActionVMHibernate Action = "vm_hibernate"
	ActionVMForceStop Action = "vm_force_stop"

	ActionArrayStart Action = "array_start"
	ActionArrayStop  Action = "array_stop"

	ActionParityCheckStart  Action = "parity_check_start"
	ActionParityCheckStop   Action = "parity_check_stop"
	ActionParityCheckPause  Action = "parity_check_pause"
	ActionParityCheckResume Action = "parity_check_resume"

	ActionUserScriptExecute Action = "user_script_execute"
)

// actionPaths maps each action to its POST path; "%s" is the escaped target.
var actionPaths = map[Action]string{
	ActionContainerStart:   "/docker/%s/start",
	ActionContainerStop:    "/docker/%s/stop",
	ActionContainerRestart: "/docker/%s/restart",
	ActionContainerPause:   "/docker/%s/pause",
	ActionContainerUnpause: "/docker/%s/unpause",

	ActionVMStart:     "/vm/%s/start",
	ActionVMStop:      "/vm/%s/stop",
	ActionVMRestart:   "/vm/%s/restart",
	ActionVMPause:     "/vm/%s/pause",
	ActionVMResume:    "/vm/%s/resume",
	ActionVMHibernate: "/vm/%s/hibernate",
	ActionVMForceStop: "/vm/%s/force-stop",

	ActionArrayStart: "/array/start",
	ActionArrayStop:  "/array/stop",

	ActionParityCheckStart:  "/array/parity-check/start",
	ActionParityCheckStop:   "/array/parity-check/stop",
	ActionParityCheckPause:  "/array/parity-check/pause",
	ActionParityCheckResume: "/array/parity-check/resume",

	ActionUserScriptExecute: "/user-scripts/%s/execute",
}

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := actionPaths[action]; !ok {
		return "", fmt.Errorf("unknown unraid action %q", name)
	}
	return action, nil
}

// Actions lists every supported action, sorted.
func Actions() []Action {
	out := make([]Action, 0, len(actionPaths))
	for action := range actionPaths {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NeedsTarget reports whether the action addresses a container, VM or script.
func (a Action) NeedsTarget() bool {
	return strings.Contains(actionPaths[a], "%s")
}

// Path renders the REST path for the action.
func (a Action) Path(target string) (string, error) {
	pattern, ok := actionPaths[a]
	if !ok {
		return "", fmt.Errorf("unknown unraid action %q", string(a))
	}
	if !a.NeedsTarget() {
		return pattern, nil
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("unraid action %s requires a target", a)
	}
	return fmt.Sprintf(pattern, url.PathEscape(target)), nil
}

// Invoke performs a control action. The response body is ignored.
func (c *Client) Invoke(ctx context.Context, action Action, target string) error {
	path, err := action.Path(target)
	if err != nil {
		return err
	}
	return c.postJSON(ctx, path, nil)
}
