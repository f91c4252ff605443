package dpp_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDpp(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "dpp pipeline suite")
}
