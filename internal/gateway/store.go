package gateway

import (
	"errors"
	"sort"
	"sync"

	"github.com/nao1215/authgate/pkg/middleware"
)

// ErrResourceNotFound は指定されたリソースが呼び出し元のテナントの
// 視界に存在しないことを表す。別テナントのリソースIDを指定した場合も
// （superadminを除き）このエラーになる。
var ErrResourceNotFound = errors.New("resource not found")

// Resource はテナントに所属するリソースを表す。
// Tenantは作成時に呼び出し元のテナントから刻印され、以後変更できない。
type Resource struct {
	// ID はプロセス内で一意な単調増加の識別子。
	ID int64 `json:"id"`
	// Tenant は所有テナントのID。作成後は不変。
	Tenant string `json:"tenant"`
	// Name はリソース名。
	Name string `json:"name"`
	// Type はリソースの種別タグ。
	Type string `json:"type"`
}

// ResourceStore はテナントスコープ付きのインメモリリソースストア。
// すべての操作は内部のロックで直列化され、IDの再利用や
// 読みかけのレコードが観測されることはない。プロセスの生存期間を
// 超えた永続化は行わない。
type ResourceStore struct {
	// mu はresourcesとnextIDを保護する。
	mu sync.RWMutex
	// nextID は次に割り当てるリソースID。
	nextID int64
	// resources はID→リソースのマップ。
	resources map[int64]Resource
}

// NewResourceStore は空のリソースストアを生成する。IDは1から始まる。
func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		nextID:    1,
		resources: make(map[int64]Resource),
	}
}

// visibleTo はリソースが呼び出し元から見えるかどうかを判定する。
// superadminはテナントスコープを完全にバイパスする。
func (r Resource) visibleTo(caller middleware.Caller) bool {
	return caller.IsSuperadmin() || r.Tenant == caller.Tenant
}

// Create はリソースを作成してIDを割り当てる。
// tenantは必ず呼び出し元の認証済みテナントを渡すこと。クライアント入力の
// テナント値をここに渡してはならない。
func (s *ResourceStore) Create(tenant, name, typ string) Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Resource{
		ID:     s.nextID,
		Tenant: tenant,
		Name:   name,
		Type:   typ,
	}
	s.resources[r.ID] = r
	s.nextID++
	return r
}

// List は呼び出し元から見えるリソースをID昇順で返す。
// superadminは全テナントのリソースを、それ以外は自テナントのもののみを受け取る。
// 返り値はコピーであり、呼び出し元が変更してもストアには影響しない。
func (s *ResourceStore) List(caller middleware.Caller) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Resource, 0, len(s.resources))
	for _, r := range s.resources {
		if r.visibleTo(caller) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get は呼び出し元のテナントの視界でリソースのスナップショットを返す。
// 存在しない場合、および別テナントのリソースをsuperadmin以外が指定した
// 場合はErrResourceNotFoundを返す。
func (s *ResourceStore) Get(id int64, caller middleware.Caller) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok || !r.visibleTo(caller) {
		return Resource{}, ErrResourceNotFound
	}
	return r, nil
}

// Update はリソースの名前と種別を更新する。テナントは変更できない。
// nilのフィールドは変更しない。PDP判定はロックの外で済ませてから
// 呼び出すため、ここで存在を再確認する。
func (s *ResourceStore) Update(id int64, caller middleware.Caller, name, typ *string) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok || !r.visibleTo(caller) {
		return Resource{}, ErrResourceNotFound
	}

	if name != nil {
		r.Name = *name
	}
	if typ != nil {
		r.Type = *typ
	}
	s.resources[id] = r
	return r, nil
}

// Delete はリソースを削除する。並行するList/Getからは削除の前後いずれかの
// 状態だけが観測される。Updateと同様に存在を再確認する。
func (s *ResourceStore) Delete(id int64, caller middleware.Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok || !r.visibleTo(caller) {
		return ErrResourceNotFound
	}
	delete(s.resources, id)
	return nil
}
