package main

import (
	"testing"

	_ "github.com/prenda-erp/prenda-erp/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	main()
}
