package reqtype

// codeOrder fixes the wire encoding of each Type as a u16, matching the
// binary ReqLogHead.ReqType field (spec.md §6). The order must never
// change once a cluster has written entries with it -- appending new
// types at the end is safe, reordering or removing existing ones is
// not.
var codeOrder = []Type{
	DocumentsCreate, DocumentsDestroy, DocumentsUpdate, DocumentsUpdateInplace,
	DocumentsSetTopGroupLabel, DocumentsLogGroupLabel, DocumentsVisit,
	CollectionStart, CollectionStop, CollectionUpdateConf, CollectionRebuildFromSCD,
	CollectionBackupAll, CollectionSetKV, CollectionUpdateShardingConf,
	CommandsIndex, CommandsIndexRecommend, CommandsMining, CommandsOptimizeIndex, CommandsIndexQueryLog,
	FacetedSetCustomRank, FacetedSetMerchantScore, FacetedSetOntology,
	KeywordsInjectQueryCorrection, KeywordsInjectQueryRecommend,
	RecommendAddUser, RecommendUpdateUser, RecommendRemoveUser, RecommendPurchaseItem,
	RecommendRateItem, RecommendVisitItem, RecommendUpdateShoppingCart, RecommendTrackEvent,
}

var (
	typeToCode = func() map[Type]uint16 {
		m := make(map[Type]uint16, len(codeOrder))
		for i, t := range codeOrder {
			m[t] = uint16(i + 1) // reserve 0 for "unknown"
		}
		return m
	}()
	codeToType = func() map[uint16]Type {
		m := make(map[uint16]Type, len(codeOrder))
		for t, c := range typeToCode {
			m[c] = t
		}
		return m
	}()
)

// Code returns the stable wire code for t, or 0 if t is unrecognized.
func Code(t Type) uint16 {
	return typeToCode[t]
}

// FromCode returns the Type for a wire code previously produced by
// Code, or false if the code is unrecognized.
func FromCode(code uint16) (Type, bool) {
	t, ok := codeToType[code]
	return t, ok
}
