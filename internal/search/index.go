package search

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/user/medialib/internal/model"
)

// DocumentStore 检索文档的存储，按记录 ID 幂等写入和删除
type DocumentStore interface {
	Upsert(id string, doc map[string]any) error
	UpsertBatch(docs map[string]map[string]any) error
	Delete(id string) error
}

// Index bleve 检索索引
type Index struct {
	index bleve.Index
}

// Query 检索条件，空值表示不过滤
type Query struct {
	Text      string
	Type      model.MediaType
	Status    model.Status
	MinRating int
	Topic     string
	Genre     string
	Limit     int
	Offset    int
}

// Hit 单条命中
type Hit struct {
	ID        uint    `json:"id"`
	Score     float64 `json:"score"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Rating    *int    `json:"rating,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// FacetCount 分面计数
type FacetCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// Result 检索结果
type Result struct {
	Total  uint64                  `json:"total"`
	Hits   []Hit                   `json:"hits"`
	Facets map[string][]FacetCount `json:"facets"`
}

// 免费文本检索的字段与权重
var textFields = map[string]float64{
	FieldTitle:       3,
	FieldDescription: 1,
	FieldAuthor:      2,
	FieldDirector:    2,
	FieldPublisher:   1,
	FieldChannel:     1,
	FieldShow:        1,
}

const facetSize = 20

// Open 打开或创建磁盘索引
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Index{index: idx}, nil
}

// NewMemIndex 内存索引，未配置 INDEX_PATH 时以及测试中使用
func NewMemIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create mem index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	keywordField := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.IncludeInAll = false
		return fm
	}
	englishField := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = en.AnalyzerName
		return fm
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(FieldID, keywordField())
	docMapping.AddFieldMappingsAt(FieldType, keywordField())
	docMapping.AddFieldMappingsAt(FieldStatus, keywordField())
	docMapping.AddFieldMappingsAt(FieldTopics, keywordField())
	docMapping.AddFieldMappingsAt(FieldGenres, keywordField())
	docMapping.AddFieldMappingsAt(FieldPlatform, keywordField())
	docMapping.AddFieldMappingsAt(FieldDomain, keywordField())
	docMapping.AddFieldMappingsAt(FieldDocumentType, keywordField())

	docMapping.AddFieldMappingsAt(FieldTitle, englishField())
	docMapping.AddFieldMappingsAt(FieldDescription, englishField())

	docMapping.AddFieldMappingsAt(FieldRating, bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt(FieldReleaseYear, bleve.NewNumericFieldMapping())

	thumb := bleve.NewTextFieldMapping()
	thumb.Index = false
	thumb.IncludeInAll = false
	docMapping.AddFieldMappingsAt(FieldThumbnail, thumb)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// Upsert 写入文档，同 ID 整体替换
func (i *Index) Upsert(id string, doc map[string]any) error {
	return i.index.Index(id, doc)
}

// UpsertBatch 批量写入
func (i *Index) UpsertBatch(docs map[string]map[string]any) error {
	batch := i.index.NewBatch()
	for id, doc := range docs {
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", id, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete 删除文档，不存在时不报错
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Count 文档数
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Close 关闭索引
func (i *Index) Close() error {
	return i.index.Close()
}

// StoredFields 返回某个文档的全部存储字段，不存在时 found=false
func (i *Index) StoredFields(id string) (map[string]any, bool, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{id}), 1, 0, false)
	req.Fields = []string{"*"}
	res, err := i.index.Search(req)
	if err != nil {
		return nil, false, fmt.Errorf("search: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	return res.Hits[0].Fields, true, nil
}

// Search 检索：精确过滤 + 文本匹配 + 主题/类型分面
func (i *Index) Search(q Query) (*Result, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, offset, false)
	req.Fields = []string{FieldTitle, FieldType, FieldStatus, FieldRating, FieldThumbnail}
	req.AddFacet(FieldTopics, bleve.NewFacetRequest(FieldTopics, facetSize))
	req.AddFacet(FieldGenres, bleve.NewFacetRequest(FieldGenres, facetSize))

	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := &Result{
		Total:  res.Total,
		Hits:   make([]Hit, 0, len(res.Hits)),
		Facets: make(map[string][]FacetCount, len(res.Facets)),
	}
	for _, h := range res.Hits {
		id, err := strconv.ParseUint(h.ID, 10, 64)
		if err != nil {
			continue
		}
		hit := Hit{ID: uint(id), Score: h.Score}
		hit.Title, _ = h.Fields[FieldTitle].(string)
		hit.Type, _ = h.Fields[FieldType].(string)
		hit.Status, _ = h.Fields[FieldStatus].(string)
		hit.Thumbnail, _ = h.Fields[FieldThumbnail].(string)
		if r, ok := h.Fields[FieldRating].(float64); ok {
			rating := int(r)
			hit.Rating = &rating
		}
		out.Hits = append(out.Hits, hit)
	}
	for name, facet := range res.Facets {
		counts := []FacetCount{}
		if facet.Terms != nil {
			for _, t := range facet.Terms.Terms() {
				counts = append(counts, FacetCount{Term: t.Term, Count: t.Count})
			}
		}
		out.Facets[name] = counts
	}
	return out, nil
}

func buildQuery(q Query) query.Query {
	var must []query.Query

	if q.Text != "" {
		var should []query.Query
		for field, boost := range textFields {
			mq := bleve.NewMatchQuery(q.Text)
			mq.SetField(field)
			mq.SetBoost(boost)
			should = append(should, mq)
		}
		must = append(must, bleve.NewDisjunctionQuery(should...))
	}
	if q.Type != "" {
		must = append(must, termQuery(FieldType, string(q.Type)))
	}
	if q.Status != "" {
		must = append(must, termQuery(FieldStatus, string(q.Status)))
	}
	if q.Topic != "" {
		must = append(must, termQuery(FieldTopics, q.Topic))
	}
	if q.Genre != "" {
		must = append(must, termQuery(FieldGenres, q.Genre))
	}
	if q.MinRating > 0 {
		minRating := float64(q.MinRating)
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(&minRating, nil, &inclusive, nil)
		rq.SetField(FieldRating)
		must = append(must, rq)
	}

	if len(must) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(must...)
}

func termQuery(field, term string) query.Query {
	tq := bleve.NewTermQuery(term)
	tq.SetField(field)
	return tq
}
