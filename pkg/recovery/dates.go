package recovery

import "strings"

const birthdayTemplate = "**Invalid dates in the data: birthday listing**\n\n" +
	"Some rows carry dates outside 1900-2100. This statement skips them:\n\n" +
	"```sql\n" +
	`SELECT
    enti_nome AS nome,
    enti_tipo_enti AS tipo,
    CASE
        WHEN enti_nasc IS NOT NULL AND EXTRACT(YEAR FROM enti_nasc) BETWEEN 1900 AND 2100
        THEN TO_CHAR(enti_nasc, 'DD/MM')
        ELSE 'invalid date'
    END AS aniversario,
    CASE
        WHEN enti_nasc IS NOT NULL AND EXTRACT(YEAR FROM enti_nasc) BETWEEN 1900 AND 2100
        THEN EXTRACT(MONTH FROM enti_nasc)
        ELSE 99
    END AS mes_nascimento,
    COALESCE(enti_tele, enti_celu, 'no phone') AS contato
FROM entidades
WHERE enti_tipo_enti IN ('CL', 'VE', 'FO')
ORDER BY mes_nascimento, EXTRACT(DAY FROM enti_nasc)
LIMIT 20;
` + "```\n\n" +
	"It guards every date with CASE WHEN and EXTRACT, keeps customers, sellers and suppliers, and orders by month and day.\n"

const payablesTemplate = "**Invalid dates in the data: payables by company**\n\n" +
	"Some due dates fall outside 1900-2100. This statement renders them as text instead of failing:\n\n" +
	"```sql\n" +
	`SELECT
    e.empr_nome AS empresa,
    t.titu_desc AS descricao,
    t.titu_valo AS valor,
    CASE
        WHEN t.titu_venc IS NOT NULL AND EXTRACT(YEAR FROM t.titu_venc) BETWEEN 1900 AND 2100
        THEN t.titu_venc::text
        ELSE 'invalid date'
    END AS vencimento,
    COALESCE(ent.enti_nome, 'no entity') AS entidade
FROM titulospagar t
JOIN empresas e ON t.titu_empr = e.empr_codi
LEFT JOIN entidades ent ON t.titu_forn = ent.enti_clie
WHERE t.titu_valo > 0
ORDER BY e.empr_nome, t.titu_valo DESC
LIMIT 10;
` + "```\n"

const genericDateTemplate = "**Invalid dates in the data**\n\n" +
	"The table holds rows whose year falls outside the supported range. Filter to valid years first.\n\n" +
	"**1. Filter valid dates:**\n```sql\n" +
	`SELECT * FROM tabela
WHERE data_campo >= '1900-01-01'
  AND data_campo <= '2100-12-31'
LIMIT 10;
` + "```\n\n" +
	"**2. Render invalid dates as text:**\n```sql\n" +
	`SELECT *,
    CASE
        WHEN EXTRACT(YEAR FROM data_campo) BETWEEN 1900 AND 2100
        THEN data_campo::text
        ELSE 'invalid date'
    END AS data_tratada
FROM tabela
LIMIT 10;
` + "```\n\n" +
	"**3. Cast and format explicitly:**\n```sql\n" +
	`SELECT TO_CHAR(CAST(data_campo AS DATE), 'YYYY-MM-DD') AS data
FROM tabela
WHERE EXTRACT(YEAR FROM data_campo) BETWEEN 1900 AND 2100
LIMIT 10;
` + "```\n"

func suggestDate(question string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, "aniversar", "nascimento", "birthday", "anniversar"):
		return birthdayTemplate
	case (containsAny(q, "titulo", "título") && strings.Contains(q, "pagar")) || strings.Contains(q, "payable"):
		return payablesTemplate
	default:
		return genericDateTemplate
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
