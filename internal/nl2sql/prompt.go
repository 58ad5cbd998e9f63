package nl2sql

import (
	"fmt"
	"strings"
)

// Prompt construction is pure string templating so the generation logic is
// testable without a model call. The table name is always "data".

func GeneratePrompt(question string, columns []string) string {
	return fmt.Sprintf(`You are a senior SQL expert.

Table: data
Columns: %s

Rules:
- Output ONLY SQL
- Use correct aggregate functions
- Use GROUP BY properly
- DuckDB compatible SQL only
- No explanations

Question:
%s`, strings.Join(columns, ", "), strings.TrimSpace(question))
}

func FixPrompt(sqlText, errorMessage string, columns []string) string {
	return fmt.Sprintf(`The following SQL caused an error:

SQL:
%s

Error:
%s

Table columns:
%s

Fix the SQL so that it executes correctly.
Return ONLY corrected SQL.`, sqlText, errorMessage, strings.Join(columns, ", "))
}
