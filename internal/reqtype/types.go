package reqtype

// Type is a request type name, e.g. "documents_create". Names match the
// original sf1r wire contract exactly so that a request log produced by
// this module stays byte-compatible with the documented contract in
// spec.md §6.
type Type string

// Document-mutating request types.
const (
	DocumentsCreate            Type = "documents_create"
	DocumentsDestroy           Type = "documents_destroy"
	DocumentsUpdate            Type = "documents_update"
	DocumentsUpdateInplace     Type = "documents_update_inplace"
	DocumentsSetTopGroupLabel  Type = "documents_set_top_group_label"
	DocumentsLogGroupLabel     Type = "documents_log_group_label"
	DocumentsVisit             Type = "documents_visit"
)

// Collection-mutating request types.
const (
	CollectionStart              Type = "collection_start_collection"
	CollectionStop               Type = "collection_stop_collection"
	CollectionUpdateConf         Type = "collection_update_collection_conf"
	CollectionRebuildFromSCD     Type = "collection_rebuild_from_scd"
	CollectionBackupAll          Type = "collection_backup_all"
	CollectionSetKV              Type = "collection_set_kv"
	CollectionUpdateShardingConf Type = "collection_update_sharding_conf"
)

// Command request types.
const (
	CommandsIndex          Type = "commands_index"
	CommandsIndexRecommend Type = "commands_index_recommend"
	CommandsMining         Type = "commands_mining"
	CommandsOptimizeIndex  Type = "commands_optimize_index"
	CommandsIndexQueryLog  Type = "commands_index_query_log"
)

// Faceted-search request types.
const (
	FacetedSetCustomRank    Type = "faceted_set_custom_rank"
	FacetedSetMerchantScore Type = "faceted_set_merchant_score"
	FacetedSetOntology      Type = "faceted_set_ontology"
)

// Keyword request types.
const (
	KeywordsInjectQueryCorrection Type = "keywords_inject_query_correction"
	KeywordsInjectQueryRecommend  Type = "keywords_inject_query_recommend"
)

// Recommend request types.
const (
	RecommendAddUser           Type = "recommend_add_user"
	RecommendUpdateUser        Type = "recommend_update_user"
	RecommendRemoveUser        Type = "recommend_remove_user"
	RecommendPurchaseItem      Type = "recommend_purchase_item"
	RecommendRateItem          Type = "recommend_rate_item"
	RecommendVisitItem         Type = "recommend_visit_item"
	RecommendUpdateShoppingCart Type = "recommend_update_shopping_cart"
	RecommendTrackEvent        Type = "recommend_track_event"
)

// WriteReqSet is the set of types that mutate state and therefore go
// through the write-request pipeline at all.
var WriteReqSet = newSet(
	DocumentsCreate, DocumentsDestroy, DocumentsUpdate, DocumentsUpdateInplace,
	DocumentsSetTopGroupLabel, DocumentsLogGroupLabel, DocumentsVisit,
	CollectionStart, CollectionStop, CollectionUpdateConf, CollectionRebuildFromSCD,
	CollectionBackupAll, CollectionSetKV, CollectionUpdateShardingConf,
	CommandsIndex, CommandsIndexRecommend, CommandsMining, CommandsOptimizeIndex, CommandsIndexQueryLog,
	FacetedSetCustomRank, FacetedSetMerchantScore, FacetedSetOntology,
	KeywordsInjectQueryCorrection, KeywordsInjectQueryRecommend,
	RecommendAddUser, RecommendUpdateUser, RecommendRemoveUser, RecommendPurchaseItem,
	RecommendRateItem, RecommendVisitItem, RecommendUpdateShoppingCart, RecommendTrackEvent,
)

// ReplayWriteReqSet is the subset of WriteReqSet safe to re-execute from
// the request log during recovery. DocumentsUpdate and
// DocumentsUpdateInplace are deliberately excluded: a partial in-place
// update is not idempotent under blind replay, matching the original
// implementation (those two insertions are commented out there).
var ReplayWriteReqSet = newSet(
	DocumentsSetTopGroupLabel, DocumentsLogGroupLabel, DocumentsVisit,
	FacetedSetCustomRank, FacetedSetMerchantScore, FacetedSetOntology,
	RecommendAddUser, RecommendUpdateUser, RecommendRemoveUser, RecommendPurchaseItem,
	RecommendRateItem, RecommendVisitItem, RecommendUpdateShoppingCart, RecommendTrackEvent,
)

// AutoShardWriteSet is the subset of WriteReqSet the master
// auto-distributes to every relevant shard rather than routing to the
// single shard derived from the request's key.
var AutoShardWriteSet = newSet(
	DocumentsSetTopGroupLabel, DocumentsLogGroupLabel,
	CommandsMining, CommandsOptimizeIndex, CommandsIndexQueryLog,
	FacetedSetCustomRank, FacetedSetMerchantScore, FacetedSetOntology,
	KeywordsInjectQueryCorrection, KeywordsInjectQueryRecommend,
	RecommendAddUser, RecommendUpdateUser, RecommendRemoveUser, RecommendPurchaseItem,
	RecommendRateItem, RecommendVisitItem, RecommendUpdateShoppingCart, RecommendTrackEvent,
)

// Set is a membership test over Type values.
type Set map[Type]struct{}

func newSet(types ...Type) Set {
	s := make(Set, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether t is a member of s.
func (s Set) Has(t Type) bool {
	_, ok := s[t]
	return ok
}

// IsWrite reports whether t must go through the write-request pipeline.
func IsWrite(t Type) bool { return WriteReqSet.Has(t) }

// IsReplayable reports whether t is safe to re-execute from the request
// log during recovery.
func IsReplayable(t Type) bool { return ReplayWriteReqSet.Has(t) }

// IsAutoSharded reports whether t is auto-distributed to every relevant
// shard rather than routed by key.
func IsAutoSharded(t Type) bool { return AutoShardWriteSet.Has(t) }
