package recovery

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column is a known column and what it holds. Type is the SQL type used
// when the table is described as DDL; empty types are omitted.
type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// Table is a known table with its key columns.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
}

// Catalog is the static schema knowledge recovery texts are built from.
type Catalog struct {
	Tables []Table `yaml:"tables"`
	// Corrections maps commonly guessed identifiers to the real column name.
	Corrections map[string]string `yaml:"corrections"`
}

// DefaultCatalog returns the built-in ERP schema catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Tables: []Table{
			{Name: "entidades", Description: "Customers, suppliers, sellers and carriers", Columns: []Column{
				{"enti_clie", "INTEGER PRIMARY KEY", "entity id"},
				{"enti_nome", "VARCHAR(100)", "name"},
				{"enti_tipo_enti", "VARCHAR(2)", "type: CL, FO, VE, TR, OU, AM"},
				{"enti_ende", "VARCHAR(200)", "address"},
				{"enti_esta", "VARCHAR(2)", "state"},
				{"enti_tele", "VARCHAR(20)", "phone"},
				{"enti_celu", "VARCHAR(20)", "mobile"},
				{"enti_cnpj", "VARCHAR(18)", "company tax id"},
				{"enti_cpf", "VARCHAR(14)", "personal tax id"},
				{"enti_nasc", "DATE", "birth date"},
			}},
			{Name: "empresas", Description: "Companies of the group", Columns: []Column{
				{"empr_codi", "INTEGER PRIMARY KEY", "company code"},
				{"empr_nome", "VARCHAR(100)", "legal name"},
				{"empr_fant", "VARCHAR(100)", "trade name"},
				{"empr_cnpj", "VARCHAR(18)", "company tax id"},
			}},
			{Name: "produtos", Description: "Product register", Columns: []Column{
				{"prod_codi", "INTEGER PRIMARY KEY", "product code"},
				{"prod_nome", "VARCHAR(200)", "product name"},
				{"prod_prec", "DECIMAL(15,2)", "list price"},
			}},
			{Name: "saldosprodutos", Description: "Product balances and movements", Columns: []Column{
				{"sapr_prod", "INTEGER", "product code"},
				{"sapr_sald", "DECIMAL(15,3)", "balance"},
			}},
			{Name: "pedidosvenda", Description: "Sales orders", Columns: []Column{
				{"pedi_nume", "INTEGER PRIMARY KEY", "order number"},
				{"pedi_data", "DATE", "order date"},
				{"pedi_forn", "INTEGER", "order counterparty, references entidades"},
				{"pedi_tota", "DECIMAL(15,2)", "order total"},
			}},
			{Name: "itenspedidovenda", Description: "Sales order items", Columns: []Column{
				{"iped_pedi", "INTEGER", "order number"},
				{"iped_prod", "INTEGER", "product code"},
				{"iped_quan", "DECIMAL(15,3)", "quantity"},
				{"iped_unit", "DECIMAL(15,2)", "unit price"},
				{"iped_tota", "DECIMAL(15,2)", "item total"},
			}},
			{Name: "titulospagar", Description: "Accounts payable", Columns: []Column{
				{"titu_id", "INTEGER PRIMARY KEY", "title id"},
				{"titu_forn", "INTEGER", "supplier, references entidades"},
				{"titu_valo", "DECIMAL(15,2)", "amount"},
				{"titu_venc", "DATE", "due date"},
				{"titu_desc", "VARCHAR(200)", "description"},
				{"titu_empr", "INTEGER", "company, references empresas"},
			}},
			{Name: "titulosreceber", Description: "Accounts receivable", Columns: []Column{
				{"titu_id", "INTEGER PRIMARY KEY", "title id"},
				{"titu_clie", "INTEGER", "customer, references entidades"},
				{"titu_valo", "DECIMAL(15,2)", "amount"},
				{"titu_venc", "DATE", "due date"},
			}},
		},
		Corrections: map[string]string{
			"id":                "enti_clie",
			"codigo":            "enti_clie",
			"id_cliente":        "enti_clie",
			"codigo_cliente":    "enti_clie",
			"nome":              "enti_nome",
			"nome_cliente":      "enti_nome",
			"nome_entidade":     "enti_nome",
			"tipo":              "enti_tipo_enti",
			"tipo_entidade":     "enti_tipo_enti",
			"tipo_cliente":      "enti_tipo_enti",
			"endereco":          "enti_ende",
			"estado":            "enti_esta",
			"telefone":          "enti_tele",
			"celular":           "enti_celu",
			"codigo_produto":    "prod_codi",
			"nome_produto":      "prod_nome",
			"numero_pedido":     "pedi_nume",
			"data_pedido":       "pedi_data",
			"data":              "pedi_data",
			"fornecedor_pedido": "pedi_forn",
			"total_pedido":      "pedi_tota",
			"valor_total":       "pedi_tota",
			"valor":             "pedi_tota",
			"faturamento":       "pedi_tota",
			"quantidade":        "iped_quan",
			"preco_unitario":    "iped_unit",
			"preco":             "iped_unit",
			"valor_item":        "iped_tota",
			"valor_titulo":      "titu_valo",
			"vencimento":        "titu_venc",
			"descricao":         "titu_desc",
			"empresa":           "titu_empr",
			"nome_empresa":      "empr_nome",
			"cnpj":              "enti_cnpj",
			"cpf":               "enti_cpf",
			"nascimento":        "enti_nasc",
			"data_nascimento":   "enti_nasc",
			"preco_produto":     "prod_prec",
		},
	}
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the catalog has tables and that every correction
// points at a known column.
func (c *Catalog) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("catalog: no tables")
	}
	for wrong, right := range c.Corrections {
		if len(c.TablesFor(right)) == 0 {
			return fmt.Errorf("catalog: correction %q points at unknown column %q", wrong, right)
		}
	}
	return nil
}

// Table returns the table with the given name.
func (c *Catalog) Table(name string) (Table, bool) {
	for _, t := range c.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// TablesFor returns the names of the tables that have column.
func (c *Catalog) TablesFor(column string) []string {
	var out []string
	for _, t := range c.Tables {
		for _, col := range t.Columns {
			if strings.EqualFold(col.Name, column) {
				out = append(out, t.Name)
				break
			}
		}
	}
	return out
}

// Correct looks up the canonical name for a guessed identifier,
// case-insensitively.
func (c *Catalog) Correct(identifier string) (string, bool) {
	right, ok := c.Corrections[strings.ToLower(identifier)]
	return right, ok
}

// identifiers returns every known column name and correction key, each
// mapped to the canonical column, in a stable order.
func (c *Catalog) identifiers() [][2]string {
	seen := make(map[string]bool)
	var out [][2]string
	for _, t := range c.Tables {
		for _, col := range t.Columns {
			if !seen[col.Name] {
				seen[col.Name] = true
				out = append(out, [2]string{col.Name, col.Name})
			}
		}
	}
	keys := make([]string, 0, len(c.Corrections))
	for k := range c.Corrections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, [2]string{k, c.Corrections[k]})
		}
	}
	return out
}
