package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/utils"
)

// vaultSourceName 笔记库同步在指标和结果中的来源名
const vaultSourceName = "vault"

// VaultSynchronizer 扫描 Markdown 笔记库，按库内相对路径入库
type VaultSynchronizer struct {
	notes *repository.NoteRepository
	root  string
}

func NewVaultSynchronizer(notes *repository.NoteRepository, root string) *VaultSynchronizer {
	return &VaultSynchronizer{notes: notes, root: root}
}

// Enabled 是否配置了笔记库路径
func (v *VaultSynchronizer) Enabled() bool {
	return v.root != ""
}

// Run 扫描一次笔记库；内容摘要相同的笔记不写入，库中删除的笔记不会从数据库删除
func (v *VaultSynchronizer) Run(ctx context.Context) (*model.SyncResult, error) {
	result := &model.SyncResult{Source: vaultSourceName, StartedAt: time.Now()}
	if !v.Enabled() {
		return nil, errors.New("vault path not configured")
	}

	err := filepath.WalkDir(v.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			// .obsidian、.git、.trash 等隐藏目录跳过
			if path != v.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		action, err := v.syncFile(ctx, path, d)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		metrics.SyncRecords.WithLabelValues(vaultSourceName, string(action)).Inc()
		switch action {
		case actionCreated:
			result.Created++
		case actionUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
		return nil
	})

	result.FinishedAt = time.Now()
	outcome := "success"
	if err != nil {
		outcome = "failure"
		result.Error = err.Error()
		logging.Error().Err(err).Msg("[Vault] 笔记库同步失败")
	} else {
		logging.Info().Int("created", result.Created).Int("updated", result.Updated).Int("skipped", result.Skipped).Msg("[Vault] 笔记库同步完成")
	}
	metrics.SyncRuns.WithLabelValues(vaultSourceName, outcome).Inc()
	return result, err
}

func (v *VaultSynchronizer) syncFile(ctx context.Context, path string, d fs.DirEntry) (syncAction, error) {
	rel, err := filepath.Rel(v.root, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := utils.ContentHash(string(data))

	existing, err := v.notes.FindByPath(ctx, rel)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.ContentHash == hash {
		return actionSkipped, nil
	}

	info, err := d.Info()
	if err != nil {
		return "", err
	}
	parsed := parseNote(rel, data)

	note := existing
	if note == nil {
		note = &model.Note{VaultPath: rel}
	}
	note.Title = parsed.title
	note.Body = parsed.body
	note.Tags = parsed.tags
	note.ContentHash = hash
	note.ModifiedAt = info.ModTime()

	if existing == nil {
		return actionCreated, v.notes.Create(ctx, note)
	}
	return actionUpdated, v.notes.Update(ctx, note)
}

type parsedNote struct {
	title string
	body  string
	tags  []string
}

type noteFrontmatter struct {
	Title string    `yaml:"title"`
	Tags  yaml.Node `yaml:"tags"`
}

// parseNote 解析 YAML frontmatter；标题优先取 frontmatter，其次第一个一级标题，最后用文件名
func parseNote(rel string, data []byte) parsedNote {
	body := data
	var fm noteFrontmatter
	if front, rest, ok := splitFrontmatter(data); ok {
		if err := yaml.Unmarshal(front, &fm); err != nil {
			logging.Debug().Err(err).Str("path", rel).Msg("[Vault] frontmatter 解析失败")
		}
		body = rest
	}

	n := parsedNote{
		title: strings.TrimSpace(fm.Title),
		body:  strings.TrimSpace(string(body)),
		tags:  dedupeStrings(frontmatterTags(&fm.Tags)),
	}
	if n.title == "" {
		for _, line := range strings.Split(n.body, "\n") {
			if strings.HasPrefix(line, "# ") {
				n.title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
				break
			}
		}
	}
	if n.title == "" {
		n.title = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	}
	return n
}

func splitFrontmatter(data []byte) (front, rest []byte, ok bool) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return nil, data, false
	}
	start := bytes.IndexByte(data, '\n') + 1
	end := bytes.Index(data[start:], []byte("\n---"))
	if end < 0 {
		return nil, data, false
	}
	front = data[start : start+end]
	rest = data[start+end+len("\n---"):]
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		rest = nil
	}
	return front, rest, true
}

// frontmatterTags tags 可以是列表，也可以是逗号/空格分隔的字符串
func frontmatterTags(node *yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		var tags []string
		if err := node.Decode(&tags); err == nil {
			return trimTagPrefix(tags)
		}
	case yaml.ScalarNode:
		return trimTagPrefix(strings.FieldsFunc(node.Value, func(r rune) bool {
			return r == ',' || r == ' '
		}))
	}
	return nil
}

func trimTagPrefix(tags []string) []string {
	for i, t := range tags {
		tags[i] = strings.TrimPrefix(strings.TrimSpace(t), "#")
	}
	return tags
}
