// Package invoice renders invoice documents to a directory on disk.
package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/app"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

type Generator struct {
	dir string
}

func NewGenerator(dir string) *Generator {
	return &Generator{dir: dir}
}

// Generate writes one invoice for lines and returns where it was stored.
// Every call produces a new document.
func (g *Generator) Generate(ctx context.Context, orderID string, header app.DocumentHeader, lines []app.DocumentLine) (app.DocumentRef, error) {
	if err := ctx.Err(); err != nil {
		return app.DocumentRef{}, err
	}
	if len(lines) == 0 {
		return app.DocumentRef{}, fmt.Errorf("invoice for order %s has no lines", orderID)
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return app.DocumentRef{}, fmt.Errorf("create invoice dir: %w", err)
	}

	id := uuid.NewString()
	name := fmt.Sprintf("invoice_%s_%s.txt", unsafeName.ReplaceAllString(header.PONumber, "_"), id[:8])
	path := filepath.Join(g.dir, name)

	if err := os.WriteFile(path, []byte(render(id, header, lines)), 0o644); err != nil {
		return app.DocumentRef{}, fmt.Errorf("write invoice: %w", err)
	}
	return app.DocumentRef{ID: id, Location: path}, nil
}

func render(id string, header app.DocumentHeader, lines []app.DocumentLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INVOICE %s\n", id)
	fmt.Fprintf(&b, "PO number: %s\n", header.PONumber)
	fmt.Fprintf(&b, "Issued:    %s\n", header.IssuedAt.UTC().Format("2006-01-02"))
	if header.Supplier != "" {
		fmt.Fprintf(&b, "Supplier:  %s\n", header.Supplier)
	}
	fmt.Fprintf(&b, "Bill to:   %s\n", header.BuyerName)
	if header.BuyerAddress != "" {
		fmt.Fprintf(&b, "           %s\n", header.BuyerAddress)
	}
	b.WriteString("\n")

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Product\tQty\tUnit price\tAmount\t")
	total := decimal.Zero
	for _, line := range lines {
		amount := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		total = total.Add(amount)
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", line.ProductName, line.Quantity, line.UnitPrice.StringFixed(2), amount.StringFixed(2))
	}
	fmt.Fprintf(w, "\t\tTotal\t%s\t\n", total.StringFixed(2))
	_ = w.Flush()
	return b.String()
}
