package printqueue

import (
	"fmt"
	"strings"

	"github.com/example/tableorder/pkg/models"
)

const (
	orderRule = "========================"
	itemRule  = "------------------------"
	billRule  = "########################"
)

// Render formats a job as the plain text ticket printed on the
// receipt printer. The time shown is when the job was queued.
func Render(job *models.PrintJob) (string, error) {
	var b strings.Builder
	stamp := job.CreatedAt.Format("15:04:05")

	switch job.Type {
	case models.PrintJobOrder:
		ticket, err := DecodeOrderTicket(job)
		if err != nil {
			return "", err
		}
		b.WriteString(orderRule + "\n")
		b.WriteString("      NEW ORDER\n")
		fmt.Fprintf(&b, "Table: %s\n", ticket.TableName)
		fmt.Fprintf(&b, "Time: %s\n", stamp)
		b.WriteString(itemRule + "\n")
		for _, line := range ticket.Items {
			fmt.Fprintf(&b, " - %s x%d\n", line.Name, line.Quantity)
		}
		b.WriteString(orderRule + "\n")

	case models.PrintJobBill:
		ticket, err := DecodeBillTicket(job)
		if err != nil {
			return "", err
		}
		b.WriteString(billRule + "\n")
		b.WriteString("    BILL REQUEST\n")
		fmt.Fprintf(&b, "Table: %s\n", ticket.TableName)
		fmt.Fprintf(&b, "Time: %s\n", stamp)
		fmt.Fprintf(&b, "Orders: %d\n", ticket.OrderCount)
		b.WriteString(billRule + "\n")

	default:
		return "", fmt.Errorf("job %d has type %q: %w", job.ID, job.Type, ErrUnknownJobType)
	}

	return b.String(), nil
}
