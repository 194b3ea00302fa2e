package extract

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func TestExtract(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Extract Suite")
}

var _ = Describe("Total", func() {
	var (
		text   string
		amount decimal.Decimal
		err    error
	)

	JustBeforeEach(func() {
		amount, err = Total(text)
	})

	expectAmount := func(want string) {
		Expect(err).NotTo(HaveOccurred())
		Expect(amount.Equal(decimal.RequireFromString(want))).To(BeTrue(), "got %s, want %s", amount, want)
	}

	When("a total line follows a subtotal line", func() {
		BeforeEach(func() {
			text = "Subtotal 10.00\nTotal 12.34\n"
		})

		It("returns the total", func() {
			expectAmount("12.34")
		})
	})

	When("there is no keyword", func() {
		BeforeEach(func() {
			text = "Thank you\n9.99\n"
		})

		It("falls back to the last line", func() {
			expectAmount("9.99")
		})
	})

	When("there are no numbers", func() {
		BeforeEach(func() {
			text = "no numbers here"
		})

		It("returns ErrExtractionFailed", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
		})
	})

	When("the keyword is upper case with text before the amount", func() {
		BeforeEach(func() {
			text = "Milk 1.20\nTOTAL DUE: EUR 45.60\nCard 45.60\nThanks"
		})

		It("returns the amount on the keyword line", func() {
			expectAmount("45.60")
		})
	})

	When("only the Dutch keyword is present", func() {
		BeforeEach(func() {
			text = "Brood 2.10\nTotaal 7.85\nBedankt"
		})

		It("returns the amount on the totaal line", func() {
			expectAmount("7.85")
		})
	})

	When("the keyword line has no amount", func() {
		BeforeEach(func() {
			text = "Total\nItems 3\n18.20"
		})

		It("falls back to the last line", func() {
			expectAmount("18.20")
		})
	})

	When("only a subtotal line carries an amount", func() {
		BeforeEach(func() {
			text = "Subtotal 10.00\nTax included\nBye"
		})

		It("returns the subtotal amount", func() {
			expectAmount("10.00")
		})
	})

	When("the keyword line and the last line both carry amounts", func() {
		BeforeEach(func() {
			text = "Total 5.00\nChange 1.00"
		})

		It("prefers the keyword line", func() {
			expectAmount("5.00")
		})
	})

	When("the last line has an amount without two decimals", func() {
		BeforeEach(func() {
			text = "Thank you\n9.9"
		})

		It("returns ErrExtractionFailed", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
		})
	})

	When("the text uses Windows line endings", func() {
		BeforeEach(func() {
			text = "Store\r\nTotal 3.50\r\n"
		})

		It("returns the total", func() {
			expectAmount("3.50")
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns ErrExtractionFailed", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
		})
	})
})
