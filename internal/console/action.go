package console

import (
	"fmt"
	"strconv"
	"strings"

	"meshnet/internal/failure"
)

// Action is one menu entry.
type Action int

const (
	ActionExit Action = iota
	ActionStartDiscovery
	ActionStartNode
	ActionStartBoth
	ActionStatus
	ActionStopAll
	ActionRestartEngine
)

func (a Action) String() string {
	switch a {
	case ActionExit:
		return "Exit"
	case ActionStartDiscovery:
		return "Start discovery service"
	case ActionStartNode:
		return "Start VPN node"
	case ActionStartBoth:
		return "Start discovery service and VPN node"
	case ActionStatus:
		return "Show status"
	case ActionStopAll:
		return "Stop all services"
	case ActionRestartEngine:
		return "Restart container engine"
	default:
		return "Action(" + strconv.Itoa(int(a)) + ")"
	}
}

// MenuItem is a rendered menu line.
type MenuItem struct {
	Key    string
	Action Action
}

// Menu lists the available actions. Engine restart is offered only when the
// engine runs inside a managed VM; exit is always last.
func Menu(restartAvailable bool) []MenuItem {
	actions := []Action{ActionStartDiscovery, ActionStartNode, ActionStartBoth, ActionStatus, ActionStopAll}
	if restartAvailable {
		actions = append(actions, ActionRestartEngine)
	}
	actions = append(actions, ActionExit)

	items := make([]MenuItem, len(actions))
	for i, a := range actions {
		items[i] = MenuItem{Key: strconv.Itoa(int(a)), Action: a}
	}
	return items
}

// ParseAction maps operator input to an action. Input outside the current
// menu is an UnknownSelection error.
func ParseAction(input string, restartAvailable bool) (Action, error) {
	s := strings.TrimSpace(input)
	for _, item := range Menu(restartAvailable) {
		if item.Key == s {
			return item.Action, nil
		}
	}
	return 0, &failure.Error{
		Kind: failure.KindUnknownSelection,
		Err:  fmt.Errorf("invalid selection %q", s),
	}
}
