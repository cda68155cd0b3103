package repository

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type dialect struct {
	quote       func(string) string
	placeholder func(n int) string
}

var (
	mysqlDialect = dialect{
		quote:       func(s string) string { return "`" + s + "`" },
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		quote:       func(s string) string { return `"` + s + `"` },
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

// sortedColumns returns the row's columns in a stable order.
func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// buildUpsert renders an insert that overwrites every non-key column on conflict.
func (d dialect) buildUpsert(table string, row Row, conflictKey []string, postgres bool) (string, []interface{}, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("upsert %s: empty row", table)
	}
	if len(conflictKey) == 0 {
		return "", nil, fmt.Errorf("upsert %s: conflict key required", table)
	}

	cols := sortedColumns(row)
	if err := checkIdent(append([]string{table}, cols...)...); err != nil {
		return "", nil, err
	}

	isKey := make(map[string]bool, len(conflictKey))
	for _, k := range conflictKey {
		if _, ok := row[k]; !ok {
			return "", nil, fmt.Errorf("upsert %s: conflict column %q missing from row", table, k)
		}
		isKey[k] = true
	}

	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	var updates []string
	for i, c := range cols {
		quoted[i] = d.quote(c)
		holders[i] = d.placeholder(i + 1)
		args[i] = row[c]
		if isKey[c] {
			continue
		}
		if postgres {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", d.quote(c), d.quote(c)))
		} else {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", d.quote(c), d.quote(c)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", d.quote(table), strings.Join(quoted, ", "), strings.Join(holders, ", "))

	if postgres {
		keys := make([]string, len(conflictKey))
		for i, k := range conflictKey {
			keys[i] = d.quote(k)
		}
		if len(updates) == 0 {
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
		} else {
			fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(updates, ", "))
		}
	} else {
		if len(updates) == 0 {
			k := d.quote(conflictKey[0])
			updates = append(updates, fmt.Sprintf("%s = %s", k, k))
		}
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s", strings.Join(updates, ", "))
	}

	return b.String(), args, nil
}

func (d dialect) buildCount(table string, filter Filter) (string, []interface{}, error) {
	if err := checkIdent(table); err != nil {
		return "", nil, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", d.quote(table))
	if len(filter) == 0 {
		return query, nil, nil
	}

	cols := sortedColumns(Row(filter))
	if err := checkIdent(cols...); err != nil {
		return "", nil, err
	}
	conds := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = %s", d.quote(c), d.placeholder(i+1))
		args[i] = filter[c]
	}
	return query + " WHERE " + strings.Join(conds, " AND "), args, nil
}

func (d dialect) buildSelectLatest(table, orderBy string, limit int) (string, error) {
	if err := checkIdent(table, orderBy); err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = 1
	}
	return fmt.Sprintf("SELECT * FROM %s ORDER BY %s DESC LIMIT %d", d.quote(table), d.quote(orderBy), limit), nil
}
