package migrate

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/schemac/pkg/dialect"
	"github.com/leapstack-labs/schemac/pkg/sqlast"
)

// Render renders the plan as SQL text, one block per non-empty phase.
// Each operation carries a lock-class annotation so operators can see the
// cost of a phase before running it.
func (p *Plan) Render(d *dialect.Dialect) (string, error) {
	var b strings.Builder
	for ph := PhaseExpand; ph <= PhaseContract; ph++ {
		ops := p.Phase(ph)
		if len(ops) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "-- phase: %s\n", ph)
		for _, op := range ops {
			sql, _, err := sqlast.Print(op.Stmt, d)
			if err != nil {
				return "", fmt.Errorf("render %s: %w", op.ID, err)
			}
			fmt.Fprintf(&b, "-- %s (lock: %s)\n", op.ID, op.Lock)
			b.WriteString(sql)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
