//go:build integration

package integration

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLifecycleIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Blocking Lifecycle Integration Suite")
}
