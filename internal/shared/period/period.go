package period

import (
	"fmt"
	"time"
)

// Os períodos fecham nos dias 1 e 16 de cada mês, no horário de Bangkok
const Layout = "20060102"

var location = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

// DrawDate retorna a data do sorteio a que t pertence:
// até o dia 16 vale o dia 16 do mês, depois disso o dia 1 do mês seguinte
func DrawDate(t time.Time) time.Time {
	lt := t.In(location)
	if lt.Day() <= 16 {
		return time.Date(lt.Year(), lt.Month(), 16, 0, 0, 0, 0, location)
	}
	return time.Date(lt.Year(), lt.Month()+1, 1, 0, 0, 0, 0, location)
}

// BatchID é a data do sorteio no formato YYYYMMDD
func BatchID(t time.Time) string {
	return DrawDate(t).Format(Layout)
}

// Validate confere o formato e se a data cai num dia de sorteio
func Validate(batchID string) error {
	d, err := time.ParseInLocation(Layout, batchID, location)
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", batchID, err)
	}
	if d.Day() != 1 && d.Day() != 16 {
		return fmt.Errorf("invalid batch id %q: draws happen on the 1st and 16th", batchID)
	}
	return nil
}
