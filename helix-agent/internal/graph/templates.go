package graph

import (
	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

// Parameter names every template may reference.
const (
	ParamEntities = "entities"
	ParamLimit    = "limit"
)

// Template is a fixed Cypher skeleton. User text only ever reaches the
// database through $entities and $limit.
type Template struct {
	Name string
	Text string
}

// Query is a template bound to its parameters.
type Query struct {
	Template       string
	Text           string
	Params         map[string]any
	CarriedForward bool
}

// Bind returns the query for t with entities and limit as parameters.
func (t Template) Bind(entities []string, limit int) Query {
	bound := make([]string, len(entities))
	copy(bound, entities)
	return Query{
		Template: t.Name,
		Text:     t.Text,
		Params: map[string]any{
			ParamEntities: bound,
			ParamLimit:    limit,
		},
	}
}

const geneDiseaseQuery = `MATCH (g:Gene)-[:LINKED_TO]->(d:Disease)
WHERE size($entities) = 0
   OR any(term IN $entities WHERE toLower(g.gene_name) = toLower(term)
                             OR toLower(d.disease_name) = toLower(term)
                             OR toLower(d.category) = toLower(term))
RETURN g.gene_name AS gene, d.disease_name AS disease, d.category AS category
ORDER BY gene, disease
LIMIT $limit`

const drugTreatmentQuery = `MATCH (dr:Drug)-[t:TREATS]->(d:Disease)
WHERE size($entities) = 0
   OR any(term IN $entities WHERE toLower(dr.drug_name) = toLower(term)
                             OR toLower(d.disease_name) = toLower(term)
                             OR toLower(d.category) = toLower(term)
                             OR toLower(dr.approval_status) = toLower(term))
RETURN dr.drug_name AS drug, d.disease_name AS disease,
       dr.approval_status AS approval_status, t.efficacy AS efficacy
ORDER BY drug, disease
LIMIT $limit`

const geneProteinQuery = `MATCH (g:Gene)-[:ENCODES]->(p:Protein)
WHERE size($entities) = 0
   OR any(term IN $entities WHERE toLower(g.gene_name) = toLower(term)
                             OR toLower(p.protein_name) = toLower(term))
RETURN g.gene_name AS gene, p.protein_name AS protein, p.function AS function
ORDER BY gene, protein
LIMIT $limit`

const pathwayQuery = `MATCH (g:Gene)-[:ENCODES]->(p:Protein)-[a:ASSOCIATED_WITH]->(d:Disease)
WHERE size($entities) = 0
   OR any(term IN $entities WHERE toLower(g.gene_name) = toLower(term)
                             OR toLower(p.protein_name) = toLower(term)
                             OR toLower(d.disease_name) = toLower(term))
OPTIONAL MATCH (dr:Drug)-[:TARGETS]->(p)
RETURN g.gene_name AS gene, p.protein_name AS protein, d.disease_name AS disease,
       a.association_type AS association, collect(DISTINCT dr.drug_name) AS drugs
ORDER BY gene, protein, disease
LIMIT $limit`

const entitySearchQuery = `MATCH (n)
WHERE size($entities) > 0
  AND any(term IN $entities WHERE any(key IN keys(n) WHERE toLower(toString(n[key])) = toLower(term)))
RETURN labels(n) AS labels, properties(n) AS properties
LIMIT $limit`

// DefaultTemplates returns the template table for the biomedical graph
// schema. The Unknown entry is the generic entity search.
func DefaultTemplates() map[memory.QuestionType]Template {
	return map[memory.QuestionType]Template{
		memory.GeneDisease:   {Name: "gene_disease", Text: geneDiseaseQuery},
		memory.DrugTreatment: {Name: "drug_treatment", Text: drugTreatmentQuery},
		memory.GeneProtein:   {Name: "gene_protein", Text: geneProteinQuery},
		memory.Pathway:       {Name: "pathway", Text: pathwayQuery},
		memory.Unknown:       {Name: "entity_search", Text: entitySearchQuery},
	}
}
