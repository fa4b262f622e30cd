package leaf

import (
	"fmt"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
)

// sensitivityFromString parses the wire form of rule.Sensitivity. Every
// leaf rule's *FromJSON constructor shares it since rule.Sensitivity has no
// exported parser, only String().
func sensitivityFromString(s string) (rule.Sensitivity, error) {
	switch s {
	case "", "notification":
		return rule.Notification, nil
	case "warning":
		return rule.Warning, nil
	case "problem":
		return rule.Problem, nil
	case "critical":
		return rule.Critical, nil
	default:
		return rule.Notification, fmt.Errorf("leaf: unknown sensitivity %q", s)
	}
}
